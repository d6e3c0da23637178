package main

import (
	"github.com/kjk/xmlstore/storage"
	"github.com/kjk/xmlstore/xmlstore"
)

// newBackend returns the storage of config.Backend and a function that
// releases it
func newBackend(config *Config) (storage.Backend, func() error, error) {
	noop := func() error { return nil }
	switch config.Backend {
	case backendHTTP:
		h := &storage.HTTP{
			BaseURL: config.HTTP.URL,
			ApiKey:  config.HTTP.APIKey,
			Timeout: config.HTTP.Timeout,
		}
		return h, noop, nil
	case backendMinio:
		m := config.Minio
		mc, err := storage.NewMinio(&storage.MinioConfig{
			Access:   m.Access,
			Secret:   m.Secret,
			Bucket:   m.Bucket,
			Endpoint: m.Endpoint,
			Region:   m.Region,
			Prefix:   m.Prefix,
			Insecure: m.Insecure,
		})
		if err != nil {
			return nil, nil, err
		}
		return mc, noop, nil
	case backendSFTP:
		s := config.SFTP
		sc, err := storage.NewSFTP(&storage.SFTPConfig{
			User:           s.User,
			Addr:           s.Addr,
			PrivateKeyPath: s.KeyPath,
			Password:       s.Password,
			Root:           s.Root,
		})
		if err != nil {
			return nil, nil, err
		}
		return sc, sc.Close, nil
	}
	d, err := storage.NewDir(config.Dir)
	if err != nil {
		return nil, nil, err
	}
	return d, noop, nil
}

func (c *Config) schema() xmlstore.SimpleSchema {
	return xmlstore.SimpleSchema{
		Root:      c.Root,
		Container: c.Container,
		Tag:       c.Tag,
	}
}
