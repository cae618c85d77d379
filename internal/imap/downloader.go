package imap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"dmarcmon/internal/config"
	"dmarcmon/internal/helper"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"
)

// Downloader pulls DMARC report attachments out of a mailbox and drops
// them into the report directory for the ingestion driver to pick up.
// Attachments already on disk are not downloaded again.
type Downloader struct {
	conf   config.IMAPConfig
	logger *slog.Logger
}

// DownloadResult holds the counts of one mailbox sweep.
type DownloadResult struct {
	MessagesExamined  int
	ReportsFound      int
	ReportsDownloaded int
}

func NewDownloader(conf config.IMAPConfig, logger *slog.Logger) *Downloader {
	return &Downloader{
		conf:   conf,
		logger: logger,
	}
}

// errorLog adapts slog to the error logger the imap client expects.
type errorLog struct {
	logger *slog.Logger
}

func (l errorLog) Printf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func (l errorLog) Println(v ...interface{}) {
	l.logger.Error(fmt.Sprint(v...))
}

// Download scans the configured folder and saves every attachment whose
// filename matches the rua report naming convention into destDir.
func (d *Downloader) Download(ctx context.Context, destDir string) (*DownloadResult, error) {
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, fmt.Errorf("could not create %s: %w", destDir, err)
	}

	c, err := Connect(d.conf, errorLog{d.logger})
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", d.conf.Host, err)
	}

	if err := c.Login(d.conf.User, d.conf.Pass); err != nil {
		return nil, fmt.Errorf("could not login: %w", err)
	}
	d.logger.Debug("successful login")

	defer func() {
		if err := c.Logout(); err != nil {
			d.logger.Error("error on logout", "err", err)
		}
	}()

	folder := "INBOX"
	if d.conf.Folder != "" {
		hasFolder, err := HasFolder(c, d.conf.Folder)
		if err != nil {
			return nil, fmt.Errorf("could not check if folder %s exists: %w", d.conf.Folder, err)
		}
		if !hasFolder {
			return nil, fmt.Errorf("imap folder %s not found in account", d.conf.Folder)
		}
		folder = d.conf.Folder
	}

	mbox, err := c.Select(folder, false)
	if err != nil {
		return nil, fmt.Errorf("could not select folder %s: %w", folder, err)
	}
	d.logger.Info("opened folder", "folder", mbox.Name, "messages", mbox.Messages, "unread", mbox.Unseen)

	criteria := goimap.NewSearchCriteria()
	if d.conf.UnreadOnly {
		criteria.WithoutFlags = []string{goimap.SeenFlag}
	}
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("could not search for mails: %w", err)
	}

	result := &DownloadResult{}
	if len(ids) == 0 {
		return result, nil
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(ids...)

	section := &goimap.BodySectionName{}
	items := []goimap.FetchItem{
		section.FetchItem(),
		goimap.FetchEnvelope,
		goimap.FetchUid,
	}

	messages := make(chan *goimap.Message)
	done := make(chan error)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	for msg := range messages {
		select {
		case <-ctx.Done():
			// drain the channel so the fetch goroutine can finish
			for range messages {
			}
			<-done
			return result, ctx.Err()
		default:
		}

		result.MessagesExamined++
		if err := d.saveReports(msg, destDir, result); err != nil {
			// a single broken mail must not stop the sweep
			d.logger.Error("could not process message", "uid", msg.Uid, "err", err)
		}
	}

	if err := <-done; err != nil {
		return result, fmt.Errorf("error on fetch: %w", err)
	}

	d.logger.Info("mailbox sweep finished",
		"messages", result.MessagesExamined,
		"reports_found", result.ReportsFound,
		"reports_new", result.ReportsDownloaded)

	return result, nil
}

func (d *Downloader) saveReports(msg *goimap.Message, destDir string, result *DownloadResult) error {
	r := msg.GetBody(&goimap.BodySectionName{})
	if r == nil {
		return errors.New("server didn't return message body")
	}
	m, err := mail.CreateReader(r)
	if err != nil {
		return fmt.Errorf("could not create reader: %w", err)
	}
	defer m.Close()

	for {
		p, err := m.NextPart()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("could not get next part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return fmt.Errorf("could not read inline body: %w", err)
			}
			// sometimes the report is inlined, check the magic bytes
			if !helper.IsSupportedArchive(b) {
				continue
			}
			_, params, err := h.ContentDisposition()
			if err != nil {
				return fmt.Errorf("could not get content disposition: %w", err)
			}
			filename, ok := params["filename"]
			if !ok {
				d.logger.Debug("inline archive without filename", "uid", msg.Uid)
				continue
			}
			d.saveAttachment(filename, b, destDir, result)
		case *mail.AttachmentHeader:
			filename, err := h.Filename()
			if err != nil {
				return fmt.Errorf("could not get attachment filename: %w", err)
			}
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return fmt.Errorf("could not read attachment: %w", err)
			}
			d.saveAttachment(filename, b, destDir, result)
		default:
			d.logger.Debug("unhandled header type", "uid", msg.Uid)
		}
	}
}

func (d *Downloader) saveAttachment(filename string, body []byte, destDir string, result *DownloadResult) {
	if !IsReportAttachment(filename) {
		d.logger.Debug("attachment is not a report", "filename", filename)
		return
	}
	result.ReportsFound++

	path := filepath.Join(destDir, filepath.Base(filename))
	if _, err := os.Stat(path); err == nil {
		d.logger.Debug("report already downloaded", "filename", filename)
		return
	}

	if err := os.WriteFile(path, body, 0o640); err != nil {
		d.logger.Error("could not write report", "path", path, "err", err)
		return
	}

	result.ReportsDownloaded++
	d.logger.Info("downloaded report", "filename", filename)
}
