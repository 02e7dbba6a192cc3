package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"i4.energy/across/bg95ctl/modem"
	"i4.energy/across/bg95ctl/session"
	"i4.energy/across/bg95ctl/telemetry"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	config  *Config
	logger  *slog.Logger
	metrics *modem.Metrics
	session session.Config
	out     io.Writer
}

func newRootCommand() *cobra.Command {
	a := &app{metrics: &modem.Metrics{}, out: os.Stdout}

	root := &cobra.Command{
		Use:   "bg95ctl",
		Short: "Quectel BG95 modem controller",
		Long: `bg95ctl - drive a Quectel BG95 modem through its AT command interface.

Connection modes:
  Serial:    --port /dev/ttyUSB2 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication the password is read from the WS_PASSWORD
environment variable, or prompted for when stdin is a terminal.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringP("port", "p", "/dev/ttyUSB2", "Serial port device")
	pf.IntP("baud", "b", modem.DefaultBaudRate, "Baud rate (serial only)")
	pf.StringP("url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	pf.String("username", "", "Username for HTTP Basic auth on the bridge")
	pf.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
	pf.Duration("at-timeout", 5*time.Second, "Per-read timeout while initializing the modem")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "json", "Log format (json, console)")
	pf.String("mqtt-broker", "", "Publish results to this MQTT broker (e.g. tcp://localhost:1883)")
	pf.String("mqtt-topic-prefix", "bg95", "Prefix of the MQTT telemetry topics")

	root.AddCommand(
		a.attachCommand(),
		a.detachCommand(),
		a.powerDownCommand(),
		a.statusCommand(),
		a.gnssCommand(),
		a.getCommand(),
		a.postCommand(),
		a.pingCommand(),
		a.ntpCommand(),
		a.infoCommand(),
		a.serveCommand(),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(cmd.Flags()))
	if err != nil {
		return err
	}
	a.config = config
	a.logger = newLogger(os.Stderr, config)
	return nil
}

func (a *app) dialer() (modem.Dialer, error) {
	if a.config.WebSocketURL == "" {
		return modem.SerialDialer{
			PortName: a.config.SerialPort,
			BaudRate: a.config.BaudRate,
		}, nil
	}

	password := a.config.WebSocketPassword
	if a.config.WebSocketUsername != "" && password == "" {
		var err error
		if password, err = readPassword(); err != nil {
			return nil, err
		}
	}
	return modem.WebSocketDialer{
		URL:           a.config.WebSocketURL,
		Username:      a.config.WebSocketUsername,
		Password:      password,
		SkipTLSVerify: a.config.WebSocketSkipVerify,
	}, nil
}

// readPassword prompts on stderr without echo.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("WS_PASSWORD is not set and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(password)), nil
}

// open dials and initializes the modem. The caller closes the returned Modem.
func (a *app) open(ctx context.Context) (*modem.Modem, *session.Session, error) {
	dialer, err := a.dialer()
	if err != nil {
		return nil, nil, err
	}

	modemConfig, err := modem.NewConfigBuilder().
		WithDialer(dialer).
		WithLogger(a.logger.With("component", "modem")).
		WithMetrics(a.metrics).
		WithATTimeout(a.config.ATTimeout).
		Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create modem config: %w", err)
	}

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open modem: %w", err)
	}
	return m, session.New(m, a.session, a.logger.With("component", "session")), nil
}

// publisher connects to the MQTT broker when one is configured. It returns
// nil otherwise, or when the broker is unreachable.
func (a *app) publisher() *telemetry.Publisher {
	if a.config.MQTTBroker == "" {
		return nil
	}
	p, err := telemetry.Connect(telemetry.Config{
		Broker:      a.config.MQTTBroker,
		ClientID:    a.config.MQTTClientID,
		Username:    a.config.MQTTUsername,
		Password:    a.config.MQTTPassword,
		TopicPrefix: a.config.MQTTTopicPrefix,
		QoS:         1,
	}, a.logger.With("component", "telemetry"))
	if err != nil {
		a.logger.Warn("Telemetry disabled", "error", err)
		return nil
	}
	return p
}

// withSession runs fn on a freshly opened modem and closes it afterwards.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session.Session) error) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m, s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			a.logger.Warn("Failed to close modem", "error", err)
		}
	}()
	return fn(ctx, s)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) attachCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Switch the radio on and wait for network registration and signal",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().DurationVar(&a.session.PollInterval, "poll-interval", 0, "Delay between registration and signal polls")
	cmd.Flags().IntVar(&a.session.MaxDeniedPolls, "max-denied", 0, "Consecutive denied registration polls before giving up")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
			res, err := s.Attach(ctx)
			if err != nil {
				return err
			}
			if p := a.publisher(); p != nil {
				defer p.Close()
				if err := p.PublishAttach(res); err != nil {
					a.logger.Warn("Failed to publish attach result", "error", err)
				}
			}
			return a.print(res)
		})
	}
	return cmd
}

func (a *app) detachCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detach",
		Short: "Switch the radio off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				return s.Detach(ctx)
			})
		},
	}
}

func (a *app) powerDownCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "power-down",
		Short: "Power the modem down and wait until it is safe to cut the supply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				return s.PowerDown(ctx)
			})
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report registration, signal, operator and packet data state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				report, err := s.NetworkReport(ctx)
				if err != nil {
					a.logger.Warn("Incomplete network report", "error", err)
				}
				if p := a.publisher(); p != nil {
					defer p.Close()
					if err := p.PublishNetwork(report); err != nil {
						a.logger.Warn("Failed to publish network report", "error", err)
					}
				}
				return a.print(report)
			})
		},
	}
}

func (a *app) gnssCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gnss",
		Short: "Acquire a GNSS fix",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().DurationVar(&a.session.GNSSFixTimeout, "timeout", 0, "Give up when no fix arrives within this time")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
			fix, err := s.AcquireFix(ctx)
			if err != nil {
				return err
			}
			if p := a.publisher(); p != nil {
				defer p.Close()
				if err := p.PublishFix(fix); err != nil {
					a.logger.Warn("Failed to publish fix", "error", err)
				}
			}
			return a.print(fix)
		})
	}
	return cmd
}

func (a *app) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <url>",
		Short: "Issue an HTTP(S) GET through the modem and print the body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				resp, err := s.Get(ctx, args[0])
				if err != nil {
					return err
				}
				a.logger.Info("Response received", "status", resp.StatusCode, "length", resp.ContentLength)
				_, err = a.out.Write(resp.Body)
				return err
			})
		},
	}
}

func (a *app) postCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "post <url> <body>",
		Short: "Issue an HTTP(S) POST through the modem; a body of - reads stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := []byte(args[1])
			if args[1] == "-" {
				var err error
				if body, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				resp, err := s.Post(ctx, args[0], body)
				if err != nil {
					return err
				}
				a.logger.Info("Response received", "status", resp.StatusCode, "length", resp.ContentLength)
				_, err = a.out.Write(resp.Body)
				return err
			})
		},
	}
}

func (a *app) pingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping [host]",
		Short: "Ping a host over the packet data context",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.Flags().IntVarP(&a.session.PingCount, "count", "c", 0, "Number of echo requests")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		var host string
		if len(args) > 0 {
			host = args[0]
		}
		return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
			res, err := s.Ping(ctx, host)
			if err != nil {
				return err
			}
			return a.print(res)
		})
	}
	return cmd
}

func (a *app) ntpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ntp [server]",
		Short: "Synchronize the modem clock with an NTP server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var server string
			if len(args) > 0 {
				server = args[0]
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				ts, err := s.SyncTime(ctx, server)
				if err != nil {
					return err
				}
				return a.print(map[string]time.Time{"time": ts})
			})
		},
	}
}

// deviceInfo is printed by the info command.
type deviceInfo struct {
	Product     session.Product       `json:"product"`
	IMEI        string                `json:"imei"`
	IMSI        string                `json:"imsi,omitempty"`
	ICCID       string                `json:"iccid,omitempty"`
	Clock       time.Time             `json:"clock"`
	Temperature []session.Temperature `json:"temperature,omitempty"`
}

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print module identity, SIM identity, clock and temperatures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session.Session) error {
				var (
					info deviceInfo
					err  error
				)
				if info.Product, err = s.ProductInfo(ctx); err != nil {
					return err
				}
				if info.IMEI, err = s.IMEI(ctx); err != nil {
					return err
				}
				if info.Clock, err = s.Clock(ctx); err != nil {
					return err
				}
				// SIM and sensor queries fail while the radio is off.
				if info.IMSI, err = s.IMSI(ctx); err != nil {
					a.logger.Debug("IMSI unavailable", "error", err)
				}
				if info.ICCID, err = s.ICCID(ctx); err != nil {
					a.logger.Debug("ICCID unavailable", "error", err)
				}
				if info.Temperature, err = s.Temperature(ctx); err != nil {
					a.logger.Debug("Temperature unavailable", "error", err)
				}
				return a.print(info)
			})
		},
	}
}

func (a *app) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control API and Prometheus metrics",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		m, s, err := a.open(ctx)
		if err != nil {
			a.logger.Error("Failed to create modem", "error", err)
			return err
		}

		server := &Server{
			Logger:  a.logger.With("component", "server"),
			Session: s,
			Metrics: newMetricsHandler(a.metrics),
		}
		if p := a.publisher(); p != nil {
			defer p.Close()
			server.Publisher = p
		}

		httpServer := &http.Server{
			Addr:    a.config.BindAddress,
			Handler: server,
		}

		errc := make(chan error, 1)
		go func() {
			a.logger.Info("Starting HTTP server", "address", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		select {
		case <-ctx.Done():
			a.logger.Info("Received shutdown signal")
		case err = <-errc:
			a.logger.Error("HTTP server failed", "error", err)
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		a.logger.Info("Closing HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Failed to gracefully shutdown server", "error", err)
		}

		a.logger.Info("Closing modem connection")
		if err := m.Close(); err != nil {
			a.logger.Error("Failed to close modem", "error", err)
		}
		return err
	}
	return cmd
}
