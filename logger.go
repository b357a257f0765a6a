package main

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var logFile *os.File

// SetupLogger 设置日志级别，logPath不为空时日志写入文件，否则写到stderr
func SetupLogger(level string, logPath string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var out io.Writer = os.Stderr
	if logPath != "" {
		logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		out = logFile
	}
	logrus.SetOutput(out)
	return nil
}

func CloseLogger() {
	if logFile != nil {
		logrus.SetOutput(os.Stderr)
		_ = logFile.Close()
		logFile = nil
	}
}
