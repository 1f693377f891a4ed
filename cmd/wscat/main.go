// Package main provides the CLI entry point for wscat.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/postalsys/wscat/internal/config"
	"github.com/postalsys/wscat/internal/endpoint"
	"github.com/postalsys/wscat/internal/logging"
	"github.com/postalsys/wscat/internal/session"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"
)

// optionFlags mirrors the flag surface onto config.Options fields.
type optionFlags struct {
	configPath string

	textMode        bool
	wsProtocol      string
	wsReplyProtocol string
	udpOneshot      bool
	udpBroadcast    bool
	udpReuseaddr    bool
	unidirectional  bool
	uniReverse      bool
	exitOnEOF       bool
	oneshot         bool
	unlinkUnix      bool
	execArgs        []string
	execSetEnv      bool
	wsCURI          string
	requestURI      string
	requestMethod   string
	headers         []string
	origin          string
	ignoreZeromsg   bool
	noExitOnZeromsg bool
	bufferSize      int
	queueLen        int
	reuserZeroMsg   bool
	pingInterval    time.Duration
	pingTimeout     time.Duration
	reconnectDelay  time.Duration
	maxMessages     int
	maxMessagesRev  int
	tlsDomain       string
	tlsInsecure     bool
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		logLevel    string
		logFormat   string
		metricsAddr string
		flags       optionFlags
	)

	cmd := &cobra.Command{
		Use:   "wscat [flags] <left-spec> <right-spec>",
		Short: "wscat - netcat for WebSockets",
		Long: `wscat couples two endpoint specifiers into a bidirectional session
and forwards data until one or both sides terminate.

Specifiers nest left to right; outer specifiers wrap inner ones:

  wscat ws-listen:tcp-l:127.0.0.1:8080 mirror:
  wscat ws://echo.example.org/ stdio:
  wscat -E tcp-l:127.0.0.1:2222 exec:"ssh-proxy --stdio"`,
		Version:       Version,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLogger(logLevel, logFormat)

			opts, err := buildOptions(cmd, &flags)
			if err != nil {
				logger.Error("invalid options", logging.KeyError, err)
				return err
			}

			left, err := endpoint.Parse(args[0])
			if err != nil {
				logger.Error("bad left specifier", logging.KeyError, err)
				return err
			}
			right, err := endpoint.Parse(args[1])
			if err != nil {
				logger.Error("bad right specifier", logging.KeyError, err)
				return err
			}

			if metricsAddr != "" {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.Handler())
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						logger.Error("metrics endpoint failed", logging.KeyError, err)
					}
				}()
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				select {
				case sig := <-sigCh:
					logger.Info("shutting down", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
			}()

			onError := func(err error) {
				logger.Error("session failed", logging.KeyError, err)
			}
			if err := session.Serve(ctx, left, right, opts, logger, onError); err != nil {
				logger.Error("serve failed", logging.KeyError, err)
				return err
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address")

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "YAML options file")
	cmd.Flags().BoolVarP(&flags.textMode, "text", "t", false, "send WebSocket frames as text instead of binary")
	cmd.Flags().StringVar(&flags.wsProtocol, "protocol", "", "Sec-WebSocket-Protocol to advertise")
	cmd.Flags().StringVar(&flags.wsReplyProtocol, "server-protocol", "", "subprotocol the server side is willing to echo")
	cmd.Flags().BoolVar(&flags.udpOneshot, "udp-oneshot", false, "serve a single datagram exchange per UDP socket")
	cmd.Flags().BoolVar(&flags.udpBroadcast, "udp-broadcast", false, "set SO_BROADCAST on UDP sockets")
	cmd.Flags().BoolVar(&flags.udpReuseaddr, "udp-reuseaddr", false, "set SO_REUSEADDR on UDP sockets")
	cmd.Flags().BoolVarP(&flags.unidirectional, "unidirectional", "u", false, "forward the left-to-right half only")
	cmd.Flags().BoolVarP(&flags.uniReverse, "unidirectional-reverse", "U", false, "forward the right-to-left half only")
	cmd.Flags().BoolVarP(&flags.exitOnEOF, "exit-on-eof", "E", false, "end the session when either direction ends")
	cmd.Flags().BoolVarP(&flags.oneshot, "oneshot", "1", false, "serve only the first connection")
	cmd.Flags().BoolVar(&flags.unlinkUnix, "unlink", false, "remove a stale Unix socket path before binding")
	cmd.Flags().StringSliceVar(&flags.execArgs, "exec-args", nil, "extra arguments for exec specifiers")
	cmd.Flags().BoolVar(&flags.execSetEnv, "exec-set-env", false, "set WSCAT=1 in the environment of child processes")
	cmd.Flags().StringVar(&flags.wsCURI, "ws-c-uri", "", "target URI for WebSocket client handshakes")
	cmd.Flags().StringVar(&flags.requestURI, "request-uri", "", "structured handshake request URI (overrides --ws-c-uri)")
	cmd.Flags().StringVar(&flags.requestMethod, "request-method", "", "structured handshake request method")
	cmd.Flags().StringSliceVarP(&flags.headers, "header", "H", nil, "extra handshake header, \"Name: Value\"")
	cmd.Flags().StringVar(&flags.origin, "origin", "", "Origin header for client handshakes")
	cmd.Flags().BoolVar(&flags.ignoreZeromsg, "ignore-zeromsg", false, "silently drop zero-length WebSocket messages")
	cmd.Flags().BoolVar(&flags.noExitOnZeromsg, "no-exit-on-zeromsg", false, "deliver zero-length messages as empty reads")
	cmd.Flags().IntVarP(&flags.bufferSize, "buffer-size", "B", config.DefaultBufferSize, "transfer copy buffer size")
	cmd.Flags().IntVar(&flags.queueLen, "broadcast-queue-len", config.DefaultBroadcastQueueLen, "reuse fan-out queue length")
	cmd.Flags().BoolVar(&flags.reuserZeroMsg, "reuser-zero-msg", false, "send an empty message when a reuse client detaches")
	cmd.Flags().DurationVar(&flags.pingInterval, "ping-interval", 0, "WebSocket keepalive ping interval (0 disables)")
	cmd.Flags().DurationVar(&flags.pingTimeout, "ping-timeout", 0, "fail the connection when a pong is this late")
	cmd.Flags().DurationVar(&flags.reconnectDelay, "reconnect-delay", config.DefaultReconnectDelay, "pause between reconnect attempts")
	cmd.Flags().IntVar(&flags.maxMessages, "max-messages", 0, "cap messages read by server-side WebSocket peers (0 = unlimited)")
	cmd.Flags().IntVar(&flags.maxMessagesRev, "max-messages-rev", 0, "cap messages read by client-side WebSocket peers (0 = unlimited)")
	cmd.Flags().StringVar(&flags.tlsDomain, "tls-domain", "", "override the SNI name for wss:// connections")
	cmd.Flags().BoolVar(&flags.tlsInsecure, "tls-insecure", false, "skip certificate verification for wss:// connections")

	cmd.AddCommand(newCheckCmd(&flags))

	return cmd
}

// newCheckCmd parses and lints a specifier pair without connecting.
func newCheckCmd(flags *optionFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check <left-spec> <right-spec>",
		Short: "Parse and lint a specifier pair without connecting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := buildOptions(cmd, flags)
			if err != nil {
				return err
			}

			left, err := endpoint.Parse(args[0])
			if err != nil {
				return err
			}
			right, err := endpoint.Parse(args[1])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "left:  %s (multiconnect=%v)\n", left, left.IsMulticonnect())
			fmt.Fprintf(cmd.OutOrStdout(), "right: %s (multiconnect=%v)\n", right, right.IsMulticonnect())

			concerns := endpoint.CheckConfiguration(left, right, opts)
			for _, c := range concerns {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return endpoint.FirstFatal(concerns)
		},
	}
}

// buildOptions layers the options: defaults, then the YAML file, then any
// flags the user set explicitly.
func buildOptions(cmd *cobra.Command, flags *optionFlags) (*config.Options, error) {
	opts := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
		opts = loaded
	}

	set := cmd.Flags().Changed
	if set("text") {
		opts.WebsocketTextMode = flags.textMode
	}
	if set("protocol") {
		opts.WebsocketProtocol = flags.wsProtocol
	}
	if set("server-protocol") {
		opts.WebsocketReplyProtocol = flags.wsReplyProtocol
	}
	if set("udp-oneshot") {
		opts.UDPOneshotMode = flags.udpOneshot
	}
	if set("udp-broadcast") {
		opts.UDPBroadcast = flags.udpBroadcast
	}
	if set("udp-reuseaddr") {
		opts.UDPReuseaddr = flags.udpReuseaddr
	}
	if set("unidirectional") {
		opts.Unidirectional = flags.unidirectional
	}
	if set("unidirectional-reverse") {
		opts.UnidirectionalReverse = flags.uniReverse
	}
	if set("exit-on-eof") {
		opts.ExitOnEOF = flags.exitOnEOF
	}
	if set("oneshot") {
		opts.Oneshot = flags.oneshot
	}
	if set("unlink") {
		opts.UnlinkUnixSocket = flags.unlinkUnix
	}
	if set("exec-args") {
		opts.ExecArgs = flags.execArgs
	}
	if set("exec-set-env") {
		opts.ExecSetEnv = flags.execSetEnv
	}
	if set("ws-c-uri") {
		opts.WsCURI = flags.wsCURI
	}
	if set("request-uri") {
		opts.RequestURI = flags.requestURI
	}
	if set("request-method") {
		opts.RequestMethod = flags.requestMethod
	}
	if set("header") {
		headers, err := parseHeaders(flags.headers)
		if err != nil {
			return nil, err
		}
		opts.RequestHeaders = headers
	}
	if set("origin") {
		opts.Origin = flags.origin
	}
	if set("ignore-zeromsg") {
		opts.WebsocketIgnoreZeromsg = flags.ignoreZeromsg
	}
	if set("no-exit-on-zeromsg") {
		opts.NoExitOnZeromsg = flags.noExitOnZeromsg
	}
	if set("buffer-size") {
		opts.BufferSize = flags.bufferSize
	}
	if set("broadcast-queue-len") {
		opts.BroadcastQueueLen = flags.queueLen
	}
	if set("reuser-zero-msg") {
		opts.ReuserSendZeroMsgOnDisconnect = flags.reuserZeroMsg
	}
	if set("ping-interval") {
		opts.WsPingInterval = flags.pingInterval
	}
	if set("ping-timeout") {
		opts.WsPingTimeout = flags.pingTimeout
	}
	if set("reconnect-delay") {
		opts.AutoreconnectDelay = flags.reconnectDelay
	}
	if set("max-messages") {
		opts.MaxMessages = flags.maxMessages
	}
	if set("max-messages-rev") {
		opts.MaxMessagesRev = flags.maxMessagesRev
	}
	if set("tls-domain") {
		opts.TLSDomain = flags.tlsDomain
	}
	if set("tls-insecure") {
		opts.TLSInsecure = flags.tlsInsecure
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// parseHeaders converts "Name: Value" strings to header entries.
func parseHeaders(raw []string) ([]config.Header, error) {
	var headers []config.Header
	for _, h := range raw {
		name, value, found := strings.Cut(h, ":")
		if !found || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("malformed header %q, want \"Name: Value\"", h)
		}
		headers = append(headers, config.Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return headers, nil
}
