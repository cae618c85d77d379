package imap

import (
	"crypto/tls"
	"fmt"

	"dmarcmon/internal/config"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// Connect dials the configured IMAP server. With SSL disabled the
// connection is upgraded via STARTTLS when the server supports it.
func Connect(conf config.IMAPConfig, logger imap.Logger) (*client.Client, error) {
	tlsConfig := tls.Config{} // nolint: gosec
	if conf.IgnoreCert {
		tlsConfig.InsecureSkipVerify = true // nolint:gosec
	}

	if conf.SSL {
		c, err := client.DialTLS(conf.Host, &tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("could not dial %s: %w", conf.Host, err)
		}
		c.Timeout = conf.Timeout.Duration
		c.ErrorLog = logger
		return c, nil
	}

	c, err := client.Dial(conf.Host)
	if err != nil {
		return nil, fmt.Errorf("could not dial %s: %w", conf.Host, err)
	}
	c.Timeout = conf.Timeout.Duration
	c.ErrorLog = logger

	support, err := c.SupportStartTLS()
	if err != nil {
		return nil, err
	}
	if support {
		if err := c.StartTLS(&tlsConfig); err != nil {
			return nil, fmt.Errorf("could not upgrade to TLS: %w", err)
		}
	}

	return c, nil
}

// HasFolder checks whether the account contains a mailbox named
// folderName.
func HasFolder(c *client.Client, folderName string) (bool, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	hasFolder := false
	for m := range mailboxes {
		if m.Name == folderName {
			hasFolder = true
			break
		}
	}

	if err := <-done; err != nil {
		return false, err
	}

	return hasFolder, nil
}
