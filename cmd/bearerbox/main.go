// Command bearerbox runs the bearerbox SMS/WAP gateway core: the two global
// message queues, the SMS/WDP routers, one connection per configured SMSC,
// the SMS/WAP box listeners, and the admin HTTP interface, all under one
// supervisor.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kannelgo/bearerbox/core/admin"
	"github.com/kannelgo/bearerbox/core/box"
	"github.com/kannelgo/bearerbox/core/driver"
	"github.com/kannelgo/bearerbox/core/message"
	"github.com/kannelgo/bearerbox/core/queue"
	"github.com/kannelgo/bearerbox/core/router"
	"github.com/kannelgo/bearerbox/core/smsc"
	"github.com/kannelgo/bearerbox/core/supervisor"
	"github.com/kannelgo/bearerbox/internal/config"
	"github.com/kannelgo/bearerbox/internal/gwlog"
	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "bearerbox.toml", "path to TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bearerbox: fatal: %v\n", err)
		os.Exit(1)
	}

	logger := gwlog.NewOperational(gwlog.OperationalConfig{
		LogFile: cfg.Core.LogFile,
		Level:   cfg.Core.LogLevel,
	})
	audit := gwlog.NewAudit(os.Stderr)

	if err := run(cfg, logger, audit); err != nil {
		logger.Error().Err(err).Msg("bearerbox: fatal startup error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger zerolog.Logger, audit *logrus.Logger) error {
	sup := supervisor.New(logger.With().Str("component", "supervisor").Logger())

	incomingSMS := queue.New[message.Message]()
	incomingWDP := queue.New[message.Message]()
	outgoingSMS := queue.New[message.Message]()
	outgoingWDP := queue.New[message.Message]()

	// main holds one producer token on each global queue from startup, so the
	// routers and box senders never see a drained queue before the first SMSC
	// or box connection has registered its own token. These four tokens are
	// released together once the supervisor has entered Shutdown, whether
	// through a signal or the admin /shutdown command.
	incomingSMS.AddProducer()
	incomingWDP.AddProducer()
	outgoingSMS.AddProducer()
	outgoingWDP.AddProducer()

	smscRegistry := router.NewSmscRegistry()
	for _, s := range cfg.Smsc {
		drv, err := buildDriver(s)
		if err != nil {
			return fmt.Errorf("smsc %q: %w", s.SmscID, err)
		}
		if err := drv.Open(context.Background()); err != nil {
			return fmt.Errorf("smsc %q: open: %w", s.SmscID, err)
		}
		conn := smsc.New(smsc.Config{SMSCID: s.SmscID}, drv, sup, queue.New[message.Message](), incomingSMS, incomingWDP, logger)
		smscRegistry.RegisterSmsc(conn)
		conn.Start(context.Background())
	}

	smsRouter := router.NewSmsRouter(router.Config{}, smscRegistry, outgoingSMS, sup, logger)
	smsRouter.Start(context.Background())

	var udpSender *router.UDPSender
	if cfg.Core.UDPPort != 0 {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.Core.UDPPort})
		if err != nil {
			return fmt.Errorf("udp listen: %w", err)
		}
		udpSender = router.NewUDPSender(conn)
	}
	wdpRouter := router.NewWdpRouter(smscRegistry, outgoingWDP, udpSender, sup, logger)
	wdpRouter.Start(context.Background())

	boxRegistry := box.NewRegistry()
	heartbeatFreq, err := cfg.Core.HeartbeatFreqDuration()
	if err != nil {
		return fmt.Errorf("heartbeat-freq: %w", err)
	}
	watchdog := box.NewWatchdog(boxRegistry, heartbeatFreq, sup, logger)
	watchdog.Start(context.Background())

	smsDispatcher := box.NewSMSDispatcher(boxRegistry, incomingSMS, sup, logger)
	smsDispatcher.Start(context.Background())
	wdpDispatcher := box.NewWDPDispatcher(boxRegistry, incomingWDP, sup, logger)
	wdpDispatcher.Start(context.Background())

	if cfg.Core.SmsBoxPort != 0 {
		policy := box.AllowDenyPolicy{}
		if cfg.SmsBox != nil {
			policy = box.AllowDenyPolicy{AllowIP: cfg.SmsBox.AllowIP, DenyIP: cfg.SmsBox.DenyIP}
		}
		if err := listenBoxes(cfg.Core.SmsBoxPort, policy, sup, boxRegistry, outgoingSMS, outgoingWDP, logger); err != nil {
			return fmt.Errorf("smsbox listener: %w", err)
		}
	}
	if cfg.Core.WapBoxPort != 0 {
		policy := box.AllowDenyPolicy{}
		if cfg.WapBox != nil {
			policy = box.AllowDenyPolicy{AllowIP: cfg.WapBox.AllowIP, DenyIP: cfg.WapBox.DenyIP}
		}
		if err := listenBoxes(cfg.Core.WapBoxPort, policy, sup, boxRegistry, outgoingSMS, outgoingWDP, logger); err != nil {
			return fmt.Errorf("wapbox listener: %w", err)
		}
	}

	adminSrv := admin.New(admin.Config{
		Addr:         fmt.Sprintf(":%d", cfg.Core.AdminPort),
		Password:     cfg.Core.AdminPassword,
		PasswordHash: cfg.Core.AdminPasswordHash,
	}, sup, audit)
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil {
			logger.Error().Err(err).Msg("admin server stopped with an error")
		}
	}()

	if cfg.Core.PidFile != "" {
		if err := os.WriteFile(cfg.Core.PidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
			logger.Warn().Err(err).Msg("failed to write pid file")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			if err := sup.Shutdown(); err != nil {
				logger.Warn().Err(err).Msg("shutdown transition failed")
			}
		case <-waitShutdown(sup):
		}
		incomingSMS.RemoveProducer()
		incomingWDP.RemoveProducer()
		outgoingSMS.RemoveProducer()
		outgoingWDP.RemoveProducer()
	}()

	sup.WaitDead()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = adminSrv.Close(ctx)

	logger.Info().Msg("bearerbox exiting cleanly")
	return nil
}

// buildDriver constructs the Driver for one configured SMSC, per its dialect.
func buildDriver(s config.Smsc) (driver.Driver, error) {
	filter := driver.AddressFilter{
		PreferredPrefix: s.PreferredPrefix,
		AllowedPrefix:   s.AllowedPrefix,
		DeniedPrefix:    s.DeniedPrefix,
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))

	switch driver.Dialect(s.Dialect) {
	case driver.DialectFake:
		return driver.NewFakeDriver(driver.FakeConfig{SMSCID: s.SmscID, AddressFilter: filter}), nil
	case driver.DialectAT:
		return driver.NewATDriver(driver.ATConfig{
			SMSCID:        s.SmscID,
			AddressFilter: filter,
			Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
				var d net.Dialer
				return d.DialContext(ctx, "tcp", addr)
			},
		}), nil
	default:
		return nil, fmt.Errorf("unknown smsc dialect %q", s.Dialect)
	}
}

// listenBoxes accepts box connections forever on port, registering each into
// reg and starting its receiver/sender goroutines. It returns once the
// listener is established; accepting continues in its own goroutine.
func listenBoxes(port int, policy box.AllowDenyPolicy, sup *supervisor.Supervisor, reg *box.Registry, outgoingSMS, outgoingWDP *queue.Queue[message.Message], logger zerolog.Logger) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	go func() {
		for {
			netConn, err := ln.Accept()
			if err != nil {
				if !sup.ShouldRun() {
					return
				}
				logger.Warn().Err(err).Msg("box listener accept error")
				continue
			}
			conn := box.New(box.Config{Policy: policy}, netConn, sup, outgoingSMS, outgoingWDP, logger)
			reg.Register(conn)
			conn.Start(context.Background())
		}
	}()
	go func() {
		<-waitShutdown(sup)
		_ = ln.Close()
	}()
	return nil
}

// waitShutdown returns a channel closed once the supervisor has entered
// Shutdown or Dead (Isolated and Suspended do not close it).
func waitShutdown(sup *supervisor.Supervisor) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for sup.ShouldRun() {
			time.Sleep(200 * time.Millisecond)
		}
		close(done)
	}()
	return done
}
