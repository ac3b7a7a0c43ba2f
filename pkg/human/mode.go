package human

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/entrhq/sitebridge/pkg/logging"
	"github.com/entrhq/sitebridge/pkg/types"
)

// Modes select how human steps reach a person.
const (
	ModeBroker     = "broker"     // published for the HTTP API and UI
	ModeTerminal   = "terminal"   // prompt on the controlling terminal
	ModeListener   = "listener"   // throwaway local web page per request
	ModeUnattended = "unattended" // fail fast
)

// Config selects and configures a mode.
type Config struct {
	In         io.Reader
	Out        io.Writer
	Events     types.EventSink
	Log        *logging.Logger
	Mode       string
	ListenAddr string
	Timeout    time.Duration
	CopyURL    bool
}

// New builds the Waiter for cfg.Mode. The returned Broker is nil in
// unattended mode; otherwise it is the one the HTTP API should expose.
func New(cfg Config) (Waiter, *Broker, error) {
	log := cfg.Log
	if log == nil {
		log = logging.Nop()
	}
	opts := []BrokerOption{WithLogger(log), WithEventSink(cfg.Events)}

	switch cfg.Mode {
	case ModeBroker, "":
	case ModeTerminal:
		in, out := cfg.In, cfg.Out
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stderr
		}
		opts = append(opts, WithPresenter(NewTerminal(in, out)))
	case ModeListener:
		out := cfg.Out
		if out == nil {
			out = os.Stderr
		}
		opts = append(opts, WithPresenter(&Listener{
			Addr:    cfg.ListenAddr,
			CopyURL: cfg.CopyURL,
			Log:     log,
			OnURL: func(req Request, url string) {
				fmt.Fprintf(out, "Action needed for %s: %s\nOpen %s when done.\n", req.AdapterID, req.Prompt, url)
			},
		}))
	case ModeUnattended:
		return Unattended{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown human mode %q", cfg.Mode)
	}

	b := NewBroker(cfg.Timeout, opts...)
	return b, b, nil
}
