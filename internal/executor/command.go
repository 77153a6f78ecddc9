package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	logx "punchclock/pkg/logx"
)

const (
	DefaultTimeout     = 90 * time.Second
	DefaultMinInterval = 2 * time.Second
)

type CommandConfig struct {
	Command string
	Args    []string
	// EnvFile is re-read on every call so rotated credentials apply without a restart.
	EnvFile     string
	Timeout     time.Duration
	MinInterval time.Duration
}

// Command drives an external program:
//
//	<command> <args...> probe                  -> in | out | unknown
//	<command> <args...> perform <in|out|none>  -> in | out | none
//
// The answer is the first word of the last non-empty stdout line. Stderr is
// only used for error messages.
type Command struct {
	cfg     CommandConfig
	log     logx.Logger
	limiter *rate.Limiter
}

func NewCommand(cfg CommandConfig, log logx.Logger) (*Command, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, ErrUnavailable
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	c := &Command{cfg: cfg, log: log.With(logx.String("comp", "executor"))}
	if cfg.MinInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return c, nil
}

func (c *Command) ProbeState(ctx context.Context) (State, error) {
	word, err := c.invoke(ctx, "probe")
	if err != nil {
		return Unknown, err
	}
	st := ParseState(word)
	c.log.Debug("probe", logx.String("answer", word), logx.String("state", st.String()))
	return st, nil
}

func (c *Command) PerformAction(ctx context.Context, expected Direction) (Direction, error) {
	word, err := c.invoke(ctx, "perform", expected.String())
	if err != nil {
		return None, err
	}
	d, err := ParseDirection(word)
	if err != nil {
		return None, fmt.Errorf("executor: perform answer: %w", err)
	}
	c.log.Info("perform", logx.String("expected", expected.String()), logx.String("performed", d.String()))
	return d, nil
}

func (c *Command) invoke(ctx context.Context, args ...string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	env, err := c.environ()
	if err != nil {
		return "", err
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	argv := append(append([]string(nil), c.cfg.Args...), args...)
	cmd := exec.CommandContext(cctx, c.cfg.Command, argv...)
	cmd.Env = env
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	took := time.Since(start)
	if cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return "", fmt.Errorf("%w after %s (%s)", ErrTimeout, c.cfg.Timeout, strings.Join(args, " "))
	}
	if err != nil {
		return "", fmt.Errorf("executor: %s %s: %w: %s", c.cfg.Command, strings.Join(args, " "), err, tail(stderr.String(), 300))
	}
	word := lastWord(stdout.String())
	c.log.Debug("command finished", logx.Strings("args", args), logx.Duration("took", took), logx.String("answer", word))
	return word, nil
}

func (c *Command) environ() ([]string, error) {
	env := os.Environ()
	if strings.TrimSpace(c.cfg.EnvFile) == "" {
		return env, nil
	}
	vars, err := godotenv.Read(c.cfg.EnvFile)
	if errors.Is(err, os.ErrNotExist) {
		c.log.Debug("env file not found", logx.String("path", c.cfg.EnvFile))
		return env, nil
	}
	if err != nil {
		return nil, fmt.Errorf("executor: env file %s: %w", c.cfg.EnvFile, err)
	}
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	return env, nil
}

func lastWord(out string) string {
	var last string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	if f := strings.Fields(last); len(f) > 0 {
		return f[0]
	}
	return ""
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
