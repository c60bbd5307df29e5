package server

import (
	"errors"
	"strconv"

	"github.com/lhartmann/kedis/lib/store"
	"github.com/lhartmann/kedis/rpc/proto"
)

// command is one entry of the dispatch table.
type command struct {
	arity int
	run   func(s *Server, argv [][]byte) proto.Response
}

// commands maps the (case-sensitive, lower-case) command name to its
// handler. Arity counts argv[0].
var commands = map[string]command{
	"get":     {2, cmdGet},
	"set":     {3, cmdSet},
	"del":     {2, cmdDel},
	"pexpire": {3, cmdPExpire},
	"pttl":    {2, cmdPTTL},
	"keys":    {2, cmdKeys},
	"zadd":    {4, cmdZAdd},
	"zrem":    {3, cmdZRem},
	"zscore":  {3, cmdZScore},
	"zquery":  {6, cmdZQuery},
}

func cmdName(argv [][]byte) string {
	if len(argv) == 0 {
		return ""
	}
	return string(argv[0])
}

// dispatch resolves and runs a parsed command. Application-level failures
// (unknown command, bad arity, bad literals, type mismatches) produce an
// ERR response; the connection stays open.
func (s *Server) dispatch(argv [][]byte) proto.Response {
	if len(argv) == 0 {
		return errResponse("empty command")
	}
	cmd, ok := commands[string(argv[0])]
	if !ok {
		return errResponse("unknown command")
	}
	if cmd.arity != len(argv) {
		return errResponse("wrong number of arguments")
	}
	return cmd.run(s, argv)
}

func okResponse(data []byte) proto.Response {
	return proto.Response{Status: proto.StatusOK, Data: data}
}

func errResponse(msg string) proto.Response {
	return proto.Response{Status: proto.StatusErr, Data: []byte(msg)}
}

func nxResponse() proto.Response {
	return proto.Response{Status: proto.StatusNX}
}

func cmdGet(s *Server, argv [][]byte) proto.Response {
	val, err := s.store.Get(argv[1])
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nxResponse()
	case err != nil:
		return errResponse(err.Error())
	}
	return okResponse(val)
}

func cmdSet(s *Server, argv [][]byte) proto.Response {
	if err := s.store.Set(argv[1], argv[2]); err != nil {
		return errResponse(err.Error())
	}
	return okResponse(nil)
}

func cmdDel(s *Server, argv [][]byte) proto.Response {
	s.store.Del(argv[1])
	return okResponse(nil)
}

func cmdPExpire(s *Server, argv [][]byte) proto.Response {
	ms, err := strconv.ParseInt(string(argv[2]), 10, 64)
	if err != nil {
		return errResponse("expect int64")
	}
	if !s.store.PExpire(argv[1], ms) {
		return nxResponse()
	}
	return okResponse(nil)
}

func cmdPTTL(s *Server, argv [][]byte) proto.Response {
	ms, ok := s.store.PTTL(argv[1])
	if !ok {
		return nxResponse()
	}
	return okResponse(proto.AppendInt(nil, ms))
}

func cmdKeys(s *Server, argv [][]byte) proto.Response {
	keys := s.store.Keys(argv[1])
	data := proto.AppendUint32(nil, uint32(len(keys)))
	for _, k := range keys {
		data = proto.AppendString(data, k)
	}
	return okResponse(data)
}

func cmdZAdd(s *Server, argv [][]byte) proto.Response {
	score, err := strconv.ParseFloat(string(argv[2]), 64)
	if err != nil {
		return errResponse("expect float")
	}
	added, err := s.store.ZAdd(argv[1], score, argv[3])
	if err != nil {
		return errResponse(err.Error())
	}
	var n int64
	if added {
		n = 1
	}
	return okResponse(proto.AppendInt(nil, n))
}

func cmdZRem(s *Server, argv [][]byte) proto.Response {
	if _, err := s.store.ZRem(argv[1], argv[2]); err != nil {
		return errResponse(err.Error())
	}
	return okResponse(nil)
}

func cmdZScore(s *Server, argv [][]byte) proto.Response {
	score, err := s.store.ZScore(argv[1], argv[2])
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nxResponse()
	case err != nil:
		return errResponse(err.Error())
	}
	return okResponse(proto.AppendScore(nil, score))
}

func cmdZQuery(s *Server, argv [][]byte) proto.Response {
	minScore, err := strconv.ParseFloat(string(argv[2]), 64)
	if err != nil {
		return errResponse("expect float")
	}
	offset, err := strconv.ParseInt(string(argv[4]), 10, 64)
	if err != nil {
		return errResponse("expect int64")
	}
	limit, err := strconv.ParseInt(string(argv[5]), 10, 64)
	if err != nil {
		return errResponse("expect int64")
	}
	pairs, err := s.store.ZQuery(argv[1], minScore, argv[3], offset, limit)
	if err != nil {
		return errResponse(err.Error())
	}
	data := proto.AppendUint32(nil, uint32(len(pairs)))
	for _, p := range pairs {
		data = proto.AppendScore(data, p.Score)
		data = proto.AppendString(data, p.Name)
	}
	return okResponse(data)
}
