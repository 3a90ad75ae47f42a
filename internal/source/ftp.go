package source

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/stockledger/internal/resilience"
)

// FTPOptions configures the FTP drop-folder source.
type FTPOptions struct {
	Addr     string // host:port
	User     string
	Password string
	Dir      string // remote drop directory
	Timeout  time.Duration
}

// FTPSource picks up spreadsheets from a remote FTP drop folder. Each Fetch
// opens a fresh connection; the mail gateway side keeps connections short
// lived too, so there is no point holding one across poll cycles. A circuit
// breaker around the fetch stops hammering a gateway that is down.
type FTPSource struct {
	opts    FTPOptions
	acked   map[string]bool
	breaker *resilience.CircuitBreaker
}

// NewFTPSource creates an FTPSource with the given options.
func NewFTPSource(opts FTPOptions) *FTPSource {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("source: ftp circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &FTPSource{
		opts:    opts,
		acked:   make(map[string]bool),
		breaker: resilience.NewCircuitBreaker(cfg),
	}
}

// Fetch connects, lists the drop directory and downloads every .xlsx that has
// not been acknowledged yet.
func (s *FTPSource) Fetch(ctx context.Context) ([]File, error) {
	return resilience.ExecuteVal(ctx, s.breaker, s.fetch)
}

// Ack marks a remote file handled so later cycles skip it.
func (s *FTPSource) Ack(name string) {
	s.acked[name] = true
}

func (s *FTPSource) fetch(ctx context.Context) ([]File, error) {
	conn, err := ftp.Dial(s.opts.Addr,
		ftp.DialWithTimeout(s.opts.Timeout),
		ftp.DialWithContext(ctx),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "source: dial ftp %s", s.opts.Addr)
	}
	defer func() {
		if quitErr := conn.Quit(); quitErr != nil {
			zap.L().Warn("source: ftp quit failed", zap.Error(quitErr))
		}
	}()

	if s.opts.User != "" {
		if err := conn.Login(s.opts.User, s.opts.Password); err != nil {
			return nil, eris.Wrap(err, "source: ftp login")
		}
	}

	entries, err := conn.List(s.opts.Dir)
	if err != nil {
		return nil, eris.Wrapf(err, "source: ftp list %s", s.opts.Dir)
	}

	var files []File
	for _, e := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if e.Type != ftp.EntryTypeFile || !strings.EqualFold(path.Ext(e.Name), ".xlsx") {
			continue
		}
		if s.acked[e.Name] {
			continue
		}

		data, err := s.download(conn, path.Join(s.opts.Dir, e.Name))
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: e.Name, Data: data})
	}
	return files, nil
}

func (s *FTPSource) download(conn *ftp.ServerConn, remote string) ([]byte, error) {
	resp, err := conn.Retr(remote)
	if err != nil {
		return nil, eris.Wrapf(err, "source: ftp retr %s", remote)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, eris.Wrapf(err, "source: ftp read %s", remote)
	}
	return data, nil
}
