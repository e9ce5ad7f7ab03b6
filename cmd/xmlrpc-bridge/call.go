package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xmlrpc-bridge/client"
	"xmlrpc-bridge/codec"
	"xmlrpc-bridge/middleware"
	"xmlrpc-bridge/transport"
)

var callFlags struct {
	host    string
	port    int
	path    string
	timeout time.Duration
}

var callCmd = &cobra.Command{
	Use:   "call METHOD [ARG...]",
	Short: "Call one XML-RPC method and print the result as JSON",
	Long: `Call one XML-RPC method. Each ARG is parsed as JSON, so 42 is an int,
"42" and 42.0 differ, and [1,2] is an array; an ARG that is not valid JSON
is sent as a string.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := make([]any, 0, len(args)-1)
		for _, arg := range args[1:] {
			params = append(params, parseArg(arg))
		}

		c, err := client.New(client.Config{
			Endpoint: transport.Endpoint{
				Host: callFlags.host,
				Port: callFlags.port,
				Path: callFlags.path,
			},
			Middlewares: []middleware.Middleware{middleware.TimeOutMiddleware(callFlags.timeout)},
			Logger:      zap.NewNop(),
		})
		if err != nil {
			return errors.Trace(err)
		}
		defer c.Close()

		result, err := c.Call(context.Background(), args[0], params)
		if err != nil {
			return errors.Trace(err)
		}
		out, err := codec.GetCodec(codec.CodecTypeJSON).Encode(result)
		if err != nil {
			return errors.Annotate(err, "printing result")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	f := callCmd.Flags()
	f.StringVar(&callFlags.host, "host", "localhost", "server host")
	f.IntVar(&callFlags.port, "port", 80, "server port")
	f.StringVar(&callFlags.path, "path", "/", "server path")
	f.DurationVar(&callFlags.timeout, "timeout", 30*time.Second, "give up after this long, 0 waits forever")
}

// parseArg reads arg as JSON, with integral numbers kept as int.
func parseArg(arg string) any {
	var v any
	dec := json.NewDecoder(strings.NewReader(arg))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil || dec.More() {
		return arg
	}
	return normalize(v)
}

func normalize(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case []any:
		for i := range v {
			v[i] = normalize(v[i])
		}
		return v
	case map[string]any:
		for k := range v {
			v[k] = normalize(v[k])
		}
		return v
	}
	return v
}
