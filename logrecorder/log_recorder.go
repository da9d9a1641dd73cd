package logrecorder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// NowString returns the current time formatted as "20060102_1504".
func NowString() string {
	return time.Now().Format("20060102_1504")
}

// MakeDir creates a directory named after the current date (e.g. 2025_04_25).
func MakeDir() (string, error) {
	now := time.Now()
	dirName := fmt.Sprintf("%d_%02d_%02d", now.Year(), now.Month(), now.Day())
	fullPath := filepath.Join(".", dirName)

	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		if err := os.MkdirAll(fullPath, 0755); err != nil {
			return "", fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return fullPath, nil
}

// RecorderAsNameInit points the logger at the file "<name>.log" inside today's
// directory, appending if it already exists. Output goes to both the file and
// stderr.
func RecorderAsNameInit(log *logrus.Logger, name string) error {
	dir, err := MakeDir()
	if err != nil {
		return err
	}

	logPath := filepath.Join(dir, fmt.Sprintf("%s.log", name))
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}

// InitAndRotate configures the logger with a timestamped file and rotates it
// every 5 minutes.
func InitAndRotate(log *logrus.Logger, logName string) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := RecorderAsNameInit(log, logName+NowString()); err != nil {
		log.Warnf("log recorder initialization failed: %v", err)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			if err := RecorderAsNameInit(log, logName+NowString()); err != nil {
				log.Warnf("log rotation failed: %v", err)
			}
		}
	}()
}

// Init configures the logger with a single timestamped file, no rotation.
func Init(log *logrus.Logger, logName string) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := RecorderAsNameInit(log, logName+NowString()); err != nil {
		log.Warnf("log recorder initialization failed: %v", err)
	}
}
