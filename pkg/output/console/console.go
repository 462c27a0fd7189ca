package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ericogr/sensorprobe/pkg/output"
)

type ConsoleOutput struct {
	w io.Writer
}

func NewConsole() output.Output { return &ConsoleOutput{w: os.Stdout} }

// NewConsoleWriter prints to w instead of stdout.
func NewConsoleWriter(w io.Writer) output.Output { return &ConsoleOutput{w: w} }

func (c *ConsoleOutput) Publish(events []output.Event) error {
	for _, e := range events {
		b, err := output.Marshal(e.Reading)
		if err != nil {
			return fmt.Errorf("encode %s reading: %w", e.Sensor, err)
		}
		if _, err := fmt.Fprintf(c.w, "%s sensor=%s available=%t reading=%s\n", e.Timestamp.Format(time.RFC3339), e.Sensor, e.Available, b); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
