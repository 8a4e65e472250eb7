package tlsroots

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor or cert renewer
// produces when it replaces a file.
const DefaultDebounce = 200 * time.Millisecond

// KeyPair serves the current certificate of a cert/key file pair and
// reloads it when either file changes. A failed reload keeps the previous
// certificate.
type KeyPair struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	debounce time.Duration

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher  *fsnotify.Watcher
	timer    *time.Timer
	timerMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// KeyPairOption configures a KeyPair.
type KeyPairOption func(*KeyPair)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) KeyPairOption {
	return func(k *KeyPair) {
		k.logger = logger
	}
}

// WithDebounce sets how long to wait after the last file event before
// reloading.
func WithDebounce(d time.Duration) KeyPairOption {
	return func(k *KeyPair) {
		k.debounce = d
	}
}

// LoadKeyPair loads certFile and keyFile. Call Watch to follow changes.
func LoadKeyPair(certFile, keyFile string, opts ...KeyPairOption) (*KeyPair, error) {
	k := &KeyPair{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	if err := k.reload(); err != nil {
		return nil, err
	}
	return k, nil
}

// ServerConfig returns a TLS configuration that always presents the
// latest loaded certificate.
func (k *KeyPair) ServerConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: k.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}

// GetCertificate implements tls.Config.GetCertificate.
func (k *KeyPair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cert, nil
}

// Watch starts following the files' directories in the background.
// Directories are watched so that rename-into-place updates are seen.
func (k *KeyPair) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	dirs := map[string]bool{
		filepath.Dir(k.certFile): true,
		filepath.Dir(k.keyFile):  true,
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
	}
	k.watcher = w
	go k.loop()
	return nil
}

// Stop ends watching. It is safe to call more than once and without Watch.
func (k *KeyPair) Stop() error {
	var err error
	k.stopOnce.Do(func() {
		close(k.done)
		k.timerMu.Lock()
		if k.timer != nil {
			k.timer.Stop()
		}
		k.timerMu.Unlock()
		if k.watcher != nil {
			err = k.watcher.Close()
		}
	})
	return err
}

func (k *KeyPair) loop() {
	cert, key := filepath.Clean(k.certFile), filepath.Clean(k.keyFile)
	for {
		select {
		case <-k.done:
			return
		case ev, ok := <-k.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(ev.Name)
			if name != cert && name != key {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			k.schedule()
		case err, ok := <-k.watcher.Errors:
			if !ok {
				return
			}
			k.logger.Warn("certificate watcher error", "error", err)
		}
	}
}

func (k *KeyPair) schedule() {
	k.timerMu.Lock()
	defer k.timerMu.Unlock()
	if k.timer != nil {
		k.timer.Stop()
	}
	k.timer = time.AfterFunc(k.debounce, func() {
		select {
		case <-k.done:
			return
		default:
		}
		if err := k.reload(); err != nil {
			k.logger.Error("certificate reload failed", "cert_file", k.certFile, "error", err)
		}
	})
}

func (k *KeyPair) reload() error {
	cert, err := tls.LoadX509KeyPair(k.certFile, k.keyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load key pair: %w", err)
	}
	k.mu.Lock()
	k.cert = &cert
	k.mu.Unlock()
	k.logger.Info("certificate loaded", "cert_file", k.certFile)
	return nil
}
