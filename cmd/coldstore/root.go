// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	logJSON  bool

	rootCmd = &cobra.Command{
		Use:           "coldstore",
		Short:         "Content-addressed, deduplicating, versioned backup engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize(func() {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Warnf("invalid --log-level %q, leaving level at %s", logLevel, logrus.GetLevel())
		} else {
			logrus.SetLevel(level)
		}
		if logJSON {
			logrus.SetFormatter(&logrus.JSONFormatter{})
		}
	})

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOrDefault("COLDSTORE_LOG_LEVEL", "info"), "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON instead of text")

	rootCmd.AddCommand(
		cmdConfig,
		cmdWhoami,
		cmdBackup,
		cmdRestore,
		cmdLog,
		cmdEncrypt,
		cmdStorage,
	)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// signalContext returns a context canceled on SIGINT (os.Interrupt), so an
// in-flight pipeline run observes cancellation the same way a
// programmatic caller's ctx.Done() would.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
