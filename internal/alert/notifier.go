package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/leakwatch/leakwatch/internal/claim"
	"github.com/leakwatch/leakwatch/internal/logging"
)

// Notifier dispatches newly created alerts downstream. With a webhook
// endpoint configured it POSTs JSON with exponential backoff and spools
// failed deliveries to disk; without one it writes JSON to stdout.
type Notifier struct {
	endpoint string
	spoolDir string
	client   *http.Client
	out      io.Writer
	log      *logging.Logger
}

func NewNotifier(endpoint, spoolDir string, log *logging.Logger) *Notifier {
	_ = os.MkdirAll(spoolDir, 0o755)
	return &Notifier{
		endpoint: endpoint,
		spoolDir: spoolDir,
		client:   &http.Client{Timeout: 20 * time.Second},
		out:      os.Stdout,
		log:      log,
	}
}

// Notify delivers one alert. Delivery failures are spooled, not returned:
// alert persistence already happened and redelivery is retried on Drain.
func (n *Notifier) Notify(rec claim.AlertRecord) {
	if n.endpoint == "" {
		_ = json.NewEncoder(n.out).Encode(rec)
		return
	}
	if err := n.post(rec); err != nil {
		n.log.Warn("alert delivery failed, spooling", "id", rec.ID, "err", err)
		n.spool(rec)
	}
}

func (n *Notifier) post(rec claim.AlertRecord) error {
	buf := &bytes.Buffer{}
	_ = json.NewEncoder(buf).Encode(rec)
	op := func() error {
		resp, err := n.client.Post(n.endpoint, "application/json", bytes.NewReader(buf.Bytes()))
		if err != nil {
			return err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("bad status: %d", resp.StatusCode)
		}
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(op, bo)
}

func (n *Notifier) spool(rec claim.AlertRecord) {
	name := time.Now().UTC().Format("20060102T150405.000000000") + ".json"
	path := filepath.Join(n.spoolDir, name)
	f, err := os.Create(path)
	if err != nil {
		n.log.Error("spool create", "err", err)
		return
	}
	defer f.Close()
	_ = json.NewEncoder(f).Encode(rec)
}

// Drain retries spooled alerts, removing the ones that deliver.
func (n *Notifier) Drain() {
	if n.endpoint == "" {
		return
	}
	entries, _ := os.ReadDir(n.spoolDir)
	for _, ent := range entries {
		p := filepath.Join(n.spoolDir, ent.Name())
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		var rec claim.AlertRecord
		if err := json.NewDecoder(f).Decode(&rec); err == nil {
			if n.post(rec) == nil {
				_ = f.Close()
				_ = os.Remove(p)
				continue
			}
		}
		_ = f.Close()
	}
}
