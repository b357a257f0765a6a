package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/bissonex/vscode-amiga-assembly/config"
	"github.com/bissonex/vscode-amiga-assembly/constants"
	"github.com/bissonex/vscode-amiga-assembly/debugger"
	"github.com/bissonex/vscode-amiga-assembly/rsp"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// 定义版本号
const Version = "1.0.0"

// CLI amiga-rsp的命令行参数，默认值来自配置文件
type CLI struct {
	Host        string           `help:"Debug stub host." default:"${config_host}"`
	Port        int              `help:"Debug stub port." default:"${config_port}"`
	Timeout     time.Duration    `help:"Reply timeout for each request, 0 uses the default." default:"${config_timeout}"`
	StopOnEntry bool             `help:"Stop on the first instruction of the program." default:"${config_stop_on_entry}" negatable:""`
	Continue    bool             `name:"run" help:"Continue after load and wait for the next stop."`
	LogLevel    string           `help:"Log level." default:"${config_log_level}" enum:"trace,debug,info,warn,error"`
	LogFile     string           `help:"Write logs to this file instead of stderr." default:"${config_log_file}"`
	Config      string           `help:"Config file, default is amiga-rsp.yaml in /etc/amiga-rsp, the user config dir or the working directory."`
	Version     kong.VersionFlag `help:"Show the version number."`
	Program     string           `arg:"" optional:"" help:"Program to load, mapped to dh0: on the emulated machine." default:"${config_program}"`
}

func main() {
	cfg, err := loadConfig(configPath(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c CLI
	ctx := kong.Parse(&c,
		kong.Name("amiga-rsp"),
		kong.Description("Load a program into an Amiga emulator through its GDB debug stub and inspect it."),
		kong.UsageOnError(),
		kong.Vars{
			"version":              Version,
			"config_host":          cfg.Host,
			"config_port":          strconv.Itoa(cfg.Port),
			"config_timeout":       cfg.Timeout.String(),
			"config_stop_on_entry": strconv.FormatBool(cfg.StopOnEntry),
			"config_log_level":     cfg.LogLevel,
			"config_log_file":      cfg.LogFile,
			"config_program":       cfg.Program,
		},
	)
	ctx.FatalIfErrorf(ctx.Run())
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// configPath 配置文件需要在解析参数之前读取，以便作为参数的默认值
func configPath(args []string) string {
	for i, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func (c *CLI) Run() error {
	if err := SetupLogger(c.LogLevel, c.LogFile); err != nil {
		return err
	}
	defer CloseLogger()
	if c.Program == "" {
		return fmt.Errorf("program cannot be empty")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	events := make(chan interface{}, 64)
	debug := debugger.NewAmigaDebugger(rsp.Options{Timeout: c.Timeout})
	defer func() {
		if err := debug.Terminate(context.Background()); err != nil {
			logrus.Warnf("terminate fail, err = %v", err)
		}
	}()
	err := debug.Start(ctx, &debugger.StartOption{
		Host:        c.Host,
		Port:        c.Port,
		Program:     c.Program,
		StopOnEntry: c.StopOnEntry,
		Callback: func(event interface{}) {
			select {
			case events <- event:
			default:
				logrus.Warnf("event dropped: %T", event)
			}
		},
	})
	if err != nil {
		return err
	}
	logrus.Infof("session %s loaded %s", debug.Proxy().SessionID(), c.Program)

	report := newReport(os.Stdout, debug)
	if !c.Continue {
		return report.snapshot(ctx)
	}
	// 加载过程中的事件已经输出过，只等待之后的停止
	for len(events) > 0 {
		<-events
	}
	// 没有停在入口时，加载完成后程序已经在运行
	if c.StopOnEntry {
		if err = debug.Continue(ctx, constants.SysThreadIDCPU); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			fmt.Println("interrupted")
			return nil
		case event := <-events:
			switch event := event.(type) {
			case *dap.StoppedEvent:
				fmt.Printf("stopped: %s\n", event.Body.Reason)
				return report.snapshot(ctx)
			case *dap.ExitedEvent:
				fmt.Printf("exited with code %d\n", event.Body.ExitCode)
				return nil
			case *dap.TerminatedEvent:
				return nil
			}
		}
	}
}
