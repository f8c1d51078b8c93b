package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/mlkmahmud/respkv/app/cache"
	"github.com/mlkmahmud/respkv/app/metrics"
	"github.com/mlkmahmud/respkv/app/resp"
)

// ErrArgument reports a command whose arguments are missing or malformed.
// The protocol has no error reply, so the connection is dropped instead.
var ErrArgument = errors.New("argument error")

const pxOption = "px"

// Store is the key-value storage the dispatcher reads and writes.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
}

// handler executes one command. args holds every token after the command
// name; the handler reports how many of them it consumed.
type handler func(d *Dispatcher, args []string) (int, []byte, error)

// commands maps exact, case-sensitive command names to their handlers.
// It is never modified after initialization.
var commands = map[string]handler{
	"CONFIG": handleConfigCommand,
	"ECHO":   handleEchoCommand,
	"GET":    handleGetCommand,
	"PING":   handlePingCommand,
	"SET":    handleSetCommand,
}

type Dispatcher struct {
	store   Store
	config  *Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type DispatcherOpts struct {
	// Defaults to an empty in-memory cache.
	Store   Store
	Config  *Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func NewDispatcher(opts DispatcherOpts) *Dispatcher {
	store := opts.Store

	if store == nil {
		store = cache.NewCache(cache.CacheConfig{})
	}

	config := opts.Config

	if config == nil {
		config = NewConfig("", "")
	}

	logger := opts.Logger

	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		store:   store,
		config:  config,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Execute runs every command contained in request and writes one reply per
// recognized command to w, in order. Each reply is written before the next
// command runs. Unknown commands are skipped without a reply.
func (d *Dispatcher) Execute(w io.Writer, request resp.Value) error {
	tokens, err := commandTokens(request)

	if err != nil {
		return err
	}

	for i := 0; i < len(tokens); {
		name := tokens[i]
		handle, ok := commands[name]

		if !ok {
			if name == pxOption {
				return fmt.Errorf("%w: \"%s\" is only valid directly after SET key value", ErrArgument, pxOption)
			}

			d.logger.Debug("skipping unknown command", "command", name)
			d.metrics.CommandExecuted("unknown")
			i += 1
			continue
		}

		consumed, reply, err := handle(d, tokens[i+1:])

		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		d.metrics.CommandExecuted(name)

		if _, err := w.Write(reply); err != nil {
			return fmt.Errorf("failed to write %s reply: %w", name, err)
		}

		i += 1 + consumed
	}

	return nil
}

// commandTokens flattens a request into its bulk string tokens. Elements of
// any other type, and null bulk strings, are dropped.
func commandTokens(request resp.Value) ([]string, error) {
	if request.Kind != resp.Array {
		return nil, fmt.Errorf("%w: request must be an array, not a %s", resp.ErrProtocol, request.Kind)
	}

	tokens := make([]string, 0, len(request.Elems))

	for _, elem := range request.Elems {
		if elem.Kind != resp.BulkString || elem.IsNull() {
			continue
		}

		tokens = append(tokens, string(elem.Str))
	}

	return tokens, nil
}

func handleConfigCommand(d *Dispatcher, args []string) (int, []byte, error) {
	if len(args) < 2 {
		return 0, nil, fmt.Errorf("%w: \"CONFIG\" requires a subcommand and a parameter", ErrArgument)
	}

	if subcommand := args[0]; subcommand != "GET" {
		return 0, nil, fmt.Errorf("%w: unsupported \"CONFIG\" subcommand \"%s\"", ErrArgument, subcommand)
	}

	parameter := args[1]
	value, ok := d.config.Get(parameter)

	if !ok {
		return 2, resp.EncodeArray(nil), nil
	}

	return 2, resp.EncodeArray([][]byte{
		resp.EncodeBulkString([]byte(parameter)),
		resp.EncodeBulkString([]byte(value)),
	}), nil
}

func handleEchoCommand(_ *Dispatcher, args []string) (int, []byte, error) {
	if len(args) < 1 {
		return 0, nil, fmt.Errorf("%w: \"ECHO\" requires a message", ErrArgument)
	}

	return 1, resp.EncodeSimpleString(args[0]), nil
}

func handleGetCommand(d *Dispatcher, args []string) (int, []byte, error) {
	if len(args) < 1 {
		return 0, nil, fmt.Errorf("%w: \"GET\" requires a key", ErrArgument)
	}

	value, ok := d.store.Get(args[0])

	if !ok {
		return 1, resp.EncodeNull(), nil
	}

	return 1, resp.EncodeSimpleString(string(value)), nil
}

func handlePingCommand(_ *Dispatcher, _ []string) (int, []byte, error) {
	return 0, resp.EncodeSimpleString("PONG"), nil
}

func handleSetCommand(d *Dispatcher, args []string) (int, []byte, error) {
	if len(args) < 2 {
		return 0, nil, fmt.Errorf("%w: \"SET\" requires a key and a value", ErrArgument)
	}

	key, value := args[0], args[1]
	consumed := 2

	var ttl time.Duration

	if len(args) > 2 && args[2] == pxOption {
		if len(args) < 4 {
			return 0, nil, fmt.Errorf("%w: \"SET\" option \"%s\" requires milliseconds", ErrArgument, pxOption)
		}

		ms, err := strconv.ParseInt(args[3], 10, 64)

		if err != nil {
			return 0, nil, fmt.Errorf("%w: \"SET\" option \"%s\" value \"%s\" is not an integer", ErrArgument, pxOption, args[3])
		}

		if ms <= 0 || ms > math.MaxInt64/int64(time.Millisecond) {
			return 0, nil, fmt.Errorf("%w: \"SET\" option \"%s\" value %d is out of range", ErrArgument, pxOption, ms)
		}

		ttl = time.Duration(ms) * time.Millisecond
		consumed = 4
	}

	d.store.Set(key, []byte(value), ttl)

	return consumed, resp.EncodeSimpleString("OK"), nil
}
