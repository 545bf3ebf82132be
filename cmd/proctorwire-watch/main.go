// proctorwire-watch connects to a session as a supervisor and logs every
// delivered batch, plus a periodic table of student projections.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"proctorwire/internal/config"
	"proctorwire/internal/dashboard"
	"proctorwire/pkg/types"
)

type options struct {
	configPath string
	url        string
	sessionID  string
	userID     string
	token      string
	every      time.Duration
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}

func parseFlags(args []string) (*options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("proctorwire-watch", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", os.Getenv("PROCTORWIRE_CONFIG_FILE"), "path to a JSON or YAML config file")
	flagSet.StringVar(&opts.url, "url", "ws://localhost:8080/ws", "relay WebSocket endpoint")
	flagSet.StringVarP(&opts.sessionID, "session", "s", "", "session ID to watch (required)")
	flagSet.StringVarP(&opts.userID, "user", "u", "", "supervisor user ID (required)")
	flagSet.StringVar(&opts.token, "token", "", "optional auth token")
	flagSet.DurationVar(&opts.every, "table-interval", 10*time.Second, "interval between projection tables; 0 disables")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if opts.sessionID == "" {
		return nil, errors.New("--session is required")
	}
	if !types.IsValidUserID(opts.userID) {
		return nil, fmt.Errorf("--user must be a valid user ID, got %q", opts.userID)
	}
	if opts.every < 0 {
		return nil, errors.New("--table-interval cannot be negative")
	}
	return &opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
	if err != nil {
		return err
	}

	monitor := dashboard.New(dashboard.Config{
		Controller: cfg.ControllerOptions(opts.url, opts.userID, types.RoleSupervisor),
		Pipeline:   cfg.PipelineOptions(),
	})
	defer monitor.Close()

	monitor.OnBatch(func(batch []types.Message) {
		log.Printf("batch size=%d %s", len(batch), summarize(batch))
	})
	monitor.Controller().OnStatusChange(func(s types.ConnectionStatus) {
		log.Printf("connection status=%s", s)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := monitor.Connect(ctx, opts.sessionID, opts.token); err != nil {
		return err
	}
	log.Printf("watching session_id=%s as %s", opts.sessionID, opts.userID)

	var tick <-chan time.Time
	if opts.every > 0 {
		ticker := time.NewTicker(opts.every)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			monitor.Flush()
			writeTable(os.Stdout, monitor.Students())
			return nil
		case <-tick:
			writeTable(os.Stdout, monitor.Students())
			if view := monitor.Session(); view.Completed {
				log.Printf("session completed reason=%q", view.CompletionReason)
				return nil
			}
		}
	}
}

// summarize renders a batch as type=count pairs in batch order.
func summarize(batch []types.Message) string {
	var order []string
	counts := make(map[string]int)
	for _, m := range batch {
		t := m.MessageType()
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}
	parts := make([]string, len(order))
	for i, t := range order {
		parts[i] = fmt.Sprintf("%s=%d", t, counts[t])
	}
	return strings.Join(parts, " ")
}

func writeTable(w io.Writer, students []types.StudentProjection) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STUDENT\tCONNECTION\tPASSAGE\tQUESTION\tANSWERS\tVIOLATIONS\tSUBMITTED")
	for _, p := range students {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%t\n",
			p.StudentID, p.Connection, p.PassageIndex, p.QuestionNumber,
			p.AnswersSubmitted, p.ViolationCount, p.IsSubmitted)
	}
	_ = tw.Flush()
}
