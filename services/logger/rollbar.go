package logsvc

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/user"
)

// RollbarLogger prints to the standard logger and reports to Rollbar when a token is configured.
type RollbarLogger struct {
	std   *log.Logger
	debug bool
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	host, _ := os.Hostname()
	rollbar.SetToken(conf.Rollbar.Token)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.Rollbar.Token != "" && !conf.TestMode)
	return &RollbarLogger{std: std, debug: conf.Debug}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var usrSet bool
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		// set logged in User
		if usr, ok := arg.(user.User); ok {
			if !usrSet { // only set one User
				rollbar.SetPerson(usr.ID, usr.Username, usr.Email)
				usrSet = true
			}
		} else {
			newArgs = append(newArgs, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs
}

// format renders a log line: level, message, then sorted fields, the user and errors.
func format(level, msg string, args []interface{}) string {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for _, arg := range args {
		switch v := arg.(type) {
		case map[string]interface{}:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, " %s=%v", k, v[k])
			}
		case user.User:
			fmt.Fprintf(&b, " user_id=%s", v.ID)
		case error:
			fmt.Fprintf(&b, " error=%q", v.Error())
		default:
			fmt.Fprintf(&b, " %+v", v)
		}
	}
	return b.String()
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	if !l.debug {
		return
	}
	rollbar.Debug(l.prepare(msg, args)...)
	l.std.Println(format("DEBUG", msg, args))
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.std.Println(format("INFO", msg, args))
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.std.Println(format("WARN", msg, args))
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.std.Println(format("ERROR", msg, args))
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	rollbar.Wait()
	l.std.Fatal(format("FATAL", msg, args))
}
