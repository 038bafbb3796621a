// Command s2sctl authenticates against the backend, sends one request and
// optionally streams RTT push messages until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luciancaetano/s2snet"
	"github.com/luciancaetano/s2snet/internal/logging"
	"github.com/luciancaetano/s2snet/s2s"
)

func main() {
	configPath := flag.String("config", "s2s.yaml", "path to a YAML or TOML config file")
	service := flag.String("service", "", "service of the request to send")
	operation := flag.String("operation", "", "operation of the request to send")
	data := flag.String("data", "", "JSON data of the request")
	stream := flag.Bool("rtt", false, "enable RTT and print push messages until interrupted")
	timeout := flag.Duration("timeout", 30*time.Second, "time allowed for authentication and the request")
	flag.Parse()

	if err := run(*configPath, *service, *operation, *data, *stream, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "s2sctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, service, operation, data string, stream bool, timeout time.Duration) error {
	cfg, err := s2s.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{App: "s2sctl", Level: cfg.LogLevel})
	client, err := s2s.New(cfg, s2s.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := client.AuthenticateSync(authCtx); err != nil {
		return err
	}
	logger.Info().Str("session_id", client.SessionID()).Msg("authenticated")

	if service != "" {
		msg := s2snet.Message{Service: service, Operation: operation}
		if data != "" {
			if !json.Valid([]byte(data)) {
				return errors.New("-data is not valid JSON")
			}
			msg.Data = json.RawMessage(data)
		}

		res, err := client.RequestSync(authCtx, msg)
		if err != nil {
			return err
		}
		if err := printJSON(res); err != nil {
			return err
		}
	}

	if !stream {
		return nil
	}
	return streamRTT(ctx, client)
}

func streamRTT(ctx context.Context, client *s2s.Client) error {
	failed := make(chan error, 1)
	client.RegisterRTTObserver(func(msg s2snet.RTTMessage) {
		fmt.Println(string(msg.Raw))
	})
	client.EnableRTT(
		func(ack s2snet.RTTMessage) {
			fmt.Fprintf(os.Stderr, "rtt connected: %s\n", ack.Data)
		},
		func(err error) {
			failed <- err
		},
	)

	select {
	case <-ctx.Done():
		client.DisableRTT()
		return nil
	case err := <-failed:
		return err
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
