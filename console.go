package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"voicelink/call"
)

// console is the text front end of the engine: it prints what the controller reports and turns
// typed commands into controller requests.
type console struct {
	log *logrus.Entry

	mu    sync.Mutex
	calls int
}

func newConsole(log *logrus.Entry) *console {
	return &console{log: log}
}

func (c *console) EmitLog(text string) {
	c.log.Info(strings.TrimRight(text, "\n"))
}

func (c *console) OnConnectionStateChanged(connected bool) {
	if connected {
		c.mu.Lock()
		c.calls++
		c.mu.Unlock()
		c.log.Info("in call, type 'hangup' to disconnect")
	} else {
		c.log.Info("ready, type 'call' to dial")
	}
}

// callCount is how many calls became active so far.
func (c *console) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

const consoleHelp = `commands:
  call [host:port]     dial the configured or given endpoint
  hangup               end the active call
  endpoint host:port   change the endpoint used for dialing and listening
  capture on|off       send microphone audio in the next call
  playback on|off      play received audio in the next call
  state                show the call state
  quit                 exit`

// serve reads commands from in until "quit" or end of input.
func (c *console) serve(in io.Reader, ctrl *call.Controller, settings *Settings) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return
		}
		if err := c.exec(fields, ctrl, settings); err != nil {
			c.log.Warn(err)
		}
	}
}

func (c *console) exec(fields []string, ctrl *call.Controller, settings *Settings) error {
	switch fields[0] {
	case "call":
		if len(fields) > 1 {
			if err := settings.SetEndpoint(fields[1]); err != nil {
				return err
			}
		}
		return ctrl.RequestCall()
	case "hangup":
		return ctrl.HangUp()
	case "endpoint":
		if len(fields) < 2 {
			c.log.Infof("endpoint %s", settings.Endpoint())
			return nil
		}
		return settings.SetEndpoint(fields[1])
	case "capture", "playback":
		on, err := parseSwitch(fields)
		if err != nil {
			return err
		}
		if fields[0] == "capture" {
			settings.SetCapture(on)
		} else {
			settings.SetPlayback(on)
		}
		return nil
	case "state":
		c.log.Infof("%s, endpoint %s, capture %t, playback %t",
			ctrl.State(), settings.Endpoint(), settings.CaptureEnabled(), settings.PlaybackEnabled())
		return nil
	case "help":
		fmt.Println(consoleHelp)
		return nil
	default:
		return fmt.Errorf("unknown command %q, type 'help'", fields[0])
	}
}

func parseSwitch(fields []string) (bool, error) {
	if len(fields) != 2 {
		return false, fmt.Errorf("usage: %s on|off", fields[0])
	}
	switch fields[1] {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("usage: %s on|off", fields[0])
	}
}
