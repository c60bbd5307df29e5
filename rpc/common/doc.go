// Package common holds the pieces shared by the server and the command line
// client: the server configuration struct and the leveled logger registry.
package common
