// Package cli implements a minimal client: it encodes one command as a
// request frame, sends it to a running server and pretty-prints the decoded
// response.
package cli

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lhartmann/kedis/rpc/proto"
)

var ClientCmd = &cobra.Command{
	Use:   "cli COMMAND [ARG...]",
	Short: "Send one command to a kedis server",
	Long: `Send one command to a kedis server and print the response.

Examples:
  kedis cli set greeting "hello"
  kedis cli get greeting
  kedis cli zadd board 4.2 alice
  kedis cli zquery board 0 "" 0 10`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, _ []string) error { return viper.BindPFlags(cmd.Flags()) },
	RunE:    run,
}

func init() {
	key := "addr"
	ClientCmd.PersistentFlags().String(key, "localhost:1234", "Address of the kedis server")

	key = "network"
	ClientCmd.PersistentFlags().String(key, "tcp", "Network of the kedis server (tcp, unix)")

	key = "timeout"
	ClientCmd.PersistentFlags().Int(key, 5, "Request timeout in seconds")
}

func run(_ *cobra.Command, args []string) error {
	timeout := time.Duration(viper.GetInt("timeout")) * time.Second
	conn, err := net.DialTimeout(viper.GetString("network"), viper.GetString("addr"), timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	argv := make([][]byte, len(args))
	for i, a := range args {
		argv[i] = []byte(a)
	}
	if _, err := conn.Write(proto.AppendRequest(nil, argv)); err != nil {
		return err
	}

	resp, err := proto.ReadResponse(conn)
	if err != nil {
		return err
	}
	printResponse(args[0], resp)
	return nil
}

// printResponse renders the payload according to the command that produced
// it; unknown shapes fall back to a quoted dump.
func printResponse(cmd string, resp proto.Response) {
	fmt.Printf("(%s)", proto.StatusName(resp.Status))
	if len(resp.Data) == 0 {
		fmt.Println()
		return
	}
	if resp.Status != proto.StatusOK {
		fmt.Printf(" %s\n", resp.Data)
		return
	}

	switch cmd {
	case "pttl", "zadd":
		if len(resp.Data) == 8 {
			fmt.Printf(" %d\n", int64(binary.LittleEndian.Uint64(resp.Data)))
			return
		}
	case "zscore":
		if len(resp.Data) == 8 {
			fmt.Printf(" %g\n", math.Float64frombits(binary.LittleEndian.Uint64(resp.Data)))
			return
		}
	case "keys":
		if printStringList(resp.Data) {
			return
		}
	case "zquery":
		if printScoredList(resp.Data) {
			return
		}
	}
	fmt.Printf(" %q\n", resp.Data)
}

func printStringList(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	n := binary.LittleEndian.Uint32(data)
	data = data[4:]
	fmt.Printf(" %d keys\n", n)
	for i := uint32(0); i < n; i++ {
		if len(data) < 4 {
			return false
		}
		slen := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if uint32(len(data)) < slen {
			return false
		}
		fmt.Printf("  %s\n", data[:slen])
		data = data[slen:]
	}
	return true
}

func printScoredList(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	n := binary.LittleEndian.Uint32(data)
	data = data[4:]
	fmt.Printf(" %d members\n", n)
	for i := uint32(0); i < n; i++ {
		if len(data) < 12 {
			return false
		}
		score := math.Float64frombits(binary.LittleEndian.Uint64(data))
		slen := binary.LittleEndian.Uint32(data[8:])
		data = data[12:]
		if uint32(len(data)) < slen {
			return false
		}
		fmt.Printf("  %g %s\n", score, data[:slen])
		data = data[slen:]
	}
	return true
}
