package storage

import (
	"fmt"
	"io"
	"path"

	"github.com/melbahja/goph"
	"github.com/pkg/sftp"
)

// SFTPConfig describes a remote directory reachable over ssh
type SFTPConfig struct {
	User string
	// host or host:port
	Addr string
	// private key, used unless Password is set
	PrivateKeyPath string
	Password       string
	// remote directory documents are stored in
	Root string
}

// SFTP stores documents in a remote directory
type SFTP struct {
	Root string

	ssh    *goph.Client
	client *sftp.Client
}

var _ Backend = &SFTP{}

// NewSFTP connects to the server. Close() must be called to release
// the connection.
func NewSFTP(config *SFTPConfig) (*SFTP, error) {
	if config == nil {
		return nil, fmt.Errorf("must provide config")
	}
	c := config
	if c.User == "" || c.Addr == "" || c.Root == "" {
		return nil, fmt.Errorf("must provide User, Addr and Root in config")
	}
	var auth goph.Auth
	var err error
	if c.Password != "" {
		auth = goph.Password(c.Password)
	} else {
		auth, err = goph.Key(c.PrivateKeyPath, "")
		if err != nil {
			return nil, fmt.Errorf("goph.Key() failed with '%w'", err)
		}
	}
	client, err := goph.New(c.User, c.Addr, auth)
	if err != nil {
		return nil, fmt.Errorf("goph.New() failed with '%w'", err)
	}
	sc, err := client.NewSftp()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("client.NewSftp() failed with '%w'", err)
	}
	return &SFTP{
		Root:   c.Root,
		ssh:    client,
		client: sc,
	}, nil
}

func (s *SFTP) remotePath(p string) (string, error) {
	p, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	return path.Join(s.Root, p), nil
}

// Open returns the remote file. A later WriteFile renames a new file into
// place so the open handle keeps reading the old content.
func (s *SFTP) Open(p string) (io.ReadSeekCloser, error) {
	rp, err := s.remotePath(p)
	if err != nil {
		return nil, err
	}
	f, err := s.client.Open(rp)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SFTP) ReadFile(p string) ([]byte, error) {
	f, err := s.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFile uploads to a temporary file and renames it over the destination
func (s *SFTP) WriteFile(p string, data []byte) error {
	rp, err := s.remotePath(p)
	if err != nil {
		return err
	}
	if err = s.client.MkdirAll(path.Dir(rp)); err != nil {
		return fmt.Errorf("sftp.MkdirAll('%s') failed with '%w'", path.Dir(rp), err)
	}
	tmpPath := rp + ".tmp"
	f, err := s.client.Create(tmpPath)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	err2 := f.Close()
	if err = getErr(err, err2); err != nil {
		_ = s.client.Remove(tmpPath)
		return err
	}
	if err = s.client.PosixRename(tmpPath, rp); err != nil {
		_ = s.client.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *SFTP) Exists(p string) (bool, error) {
	rp, err := s.remotePath(p)
	if err != nil {
		return false, err
	}
	st, err := s.client.Stat(rp)
	if isNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.Mode().IsRegular(), nil
}

func (s *SFTP) Close() error {
	err := s.client.Close()
	err2 := s.ssh.Close()
	return getErr(err, err2)
}
