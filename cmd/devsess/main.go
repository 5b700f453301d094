package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charlesren/ylog"
	"golang.org/x/term"

	"github.com/charlesren/device_session/connection"
	"github.com/charlesren/device_session/internal/config"
	"github.com/charlesren/device_session/session"
	"github.com/charlesren/device_session/task"
)

var (
	confPath = flag.String("c", "../conf/devsess.yml", "ConfigPath")
	jobPath  = flag.String("j", "job.yml", "JobPath")
	askPass  = flag.Bool("k", false, "ask for the login password when none is configured")
)

func initLog(c config.LogConfig) {
	logger := ylog.NewYLog(
		ylog.WithLogFile(c.File),
		ylog.WithMaxAge(c.MaxAge),
		ylog.WithMaxSize(c.MaxSize),
		ylog.WithMaxBackups(c.MaxBackups),
		ylog.WithLevel(c.Level),
	)
	ylog.InitLogger(logger)
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	return string(b), err
}

// buildAggregator 按配置启用结果处理器，返回需要在退出时关闭的处理器
func buildAggregator(c config.ReportersConfig) (*task.Aggregator, []io.Closer, error) {
	aggregator := task.NewAggregator(2, 500, c.FlushInterval)
	var closers []io.Closer

	if c.Log {
		aggregator.AddHandler(&task.LogHandler{ShowOutput: true})
	}
	if c.Zabbix != nil {
		h, err := task.NewZabbixSenderHandler(*c.Zabbix)
		if err != nil {
			return nil, closers, err
		}
		if err := h.TestConnection(); err != nil {
			ylog.Warnf("Main", "zabbix sender: %v", err)
		}
		aggregator.AddHandler(h)
		closers = append(closers, h)
	}
	if c.Kafka != nil {
		h, err := task.NewKafkaHandler(*c.Kafka)
		if err != nil {
			return nil, closers, err
		}
		aggregator.AddHandler(h)
		closers = append(closers, h)
	}
	if c.Mongo != nil {
		h, err := task.NewMongoHandler(*c.Mongo)
		if err != nil {
			return nil, closers, err
		}
		aggregator.AddHandler(h)
		closers = append(closers, h)
	}
	if c.Excel != nil && c.Excel.File != "" {
		h, err := task.NewExcelHandler(c.Excel.File)
		if err != nil {
			return nil, closers, err
		}
		aggregator.AddHandler(h)
		closers = append(closers, h)
	}
	return aggregator, closers, nil
}

func run() int {
	flag.Parse()

	cfg, err := config.Load(*confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "####LOAD_CONFIG_ERROR: %v\n", err)
		return 2
	}
	initLog(cfg.Log)
	ylog.Infof("Main", "config: %s, job: %s", *confPath, *jobPath)

	job, err := loadJob(*jobPath)
	if err != nil {
		ylog.Errorf("Main", "load job failed: %v", err)
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if *askPass && cfg.Defaults.Password == "" {
		pw, err := readPassword()
		if err != nil {
			fmt.Fprintf(os.Stderr, "read password: %v\n", err)
			return 2
		}
		cfg.Defaults.Password = pw
	}

	devices, err := cfg.DeviceConfigs()
	if err != nil {
		ylog.Errorf("Main", "invalid devices: %v", err)
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if devices, err = selectTargets(devices, job.Targets); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	collector := connection.NewDefaultMetricsCollector()
	connection.SetGlobalMetricsCollector(collector)

	opts := cfg.PoolOptions()
	opts.Collector = collector
	pool := connection.NewDriverPool(opts)
	defer pool.Close()
	native := session.NewFactory()
	pool.RegisterFactory(connection.ProtocolSSH, native)
	pool.RegisterFactory(connection.ProtocolTelnet, native)
	pool.RegisterFactory(connection.ProtocolScrapli, &connection.ScrapliFactory{})

	aggregator, closers, err := buildAggregator(cfg.Reporters)
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				ylog.Errorf("Main", "close %T: %v", c, err)
			}
		}
	}()
	if err != nil {
		ylog.Errorf("Main", "create result handlers failed: %v", err)
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	aggregator.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := task.NewRunner(pool, task.WithConcurrency(cfg.Runner.Concurrency), task.WithAggregator(aggregator))
	agg, err := runner.Run(ctx, devices, job.Task, job.Params)
	aggregator.Stop()
	if err != nil {
		ylog.Errorf("Main", "run %s failed: %v", job.Task, err)
		fmt.Fprintln(os.Stderr, connection.Message(err))
		return 2
	}

	for _, h := range agg.Hosts() {
		r := agg.Results[h]
		status := "ok"
		switch {
		case r.Failed:
			status = "FAILED"
		case r.Changed:
			status = "changed"
		}
		fmt.Printf("---- %s [%s] %s (%v)\n%s\n", h, job.Task, status, r.Duration.Round(time.Millisecond), r.String())
	}
	for proto, m := range collector.GetMetrics().ConnectionMetrics {
		ylog.Infof("Main", "run %s %s connections: created=%d reused=%d failed=%d",
			agg.ID, proto, m.Created, m.Reused, m.Failed)
	}

	if job.RaiseOnError {
		if err := agg.RaiseOnError(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	if agg.Failed() {
		return 1
	}
	return 0
}

func main() {
	os.Exit(run())
}
