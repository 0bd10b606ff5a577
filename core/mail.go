package core

import (
	"bytes"
	"encoding/base64"
	htmltmpl "html/template"
	"io"
	"io/fs"
	"net/http"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"

	appfs "github.com/trezcool/roofest/fs"
)

const emailTemplatesDir = "templates/email"

var (
	emailTmpls     *emailTemplates
	emailTmplsErr  error
	emailTmplsOnce sync.Once
)

// emailTemplates holds each email template in its text and html flavours, keyed by name.
// Every template is parsed together with the matching _base layout.
type emailTemplates struct {
	text map[string]*texttmpl.Template
	html map[string]*htmltmpl.Template
}

type (
	Attachment struct {
		Content     *bytes.Buffer // base64 encoded
		ContentType string
		Filename    string
	}

	EmailMessage struct {
		To          []mail.Address
		Cc          []mail.Address
		Bcc         []mail.Address
		Subject     string
		BodyStr     string // plain text body, used instead of a template
		Attachments []Attachment

		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	// ContextData is what the email templates are executed with.
	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

func loadEmailTemplates() (*emailTemplates, error) {
	emailTmplsOnce.Do(func() { emailTmpls, emailTmplsErr = parseEmailTemplates(appfs.FS) })
	return emailTmpls, emailTmplsErr
}

// Render fills TextContent and HTMLContent. BodyStr wins over the text template.
func (m *EmailMessage) Render(frontendBaseURL string) error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
	}
	if m.TemplateName == "" {
		return nil
	}

	tmpls, err := loadEmailTemplates()
	if err != nil {
		return err
	}
	ctxData := ContextData{FrontendBaseURL: frontendBaseURL, Data: m.TemplateData}

	var buff bytes.Buffer
	if tmpl, ok := tmpls.text[m.TemplateName]; ok && m.BodyStr == "" {
		if err := tmpl.ExecuteTemplate(&buff, "base", ctxData); err != nil {
			return errors.Wrapf(err, "rendering %s.txt", m.TemplateName)
		}
		m.TextContent = strings.TrimSpace(buff.String())
	}
	if tmpl, ok := tmpls.html[m.TemplateName]; ok {
		buff.Reset()
		if err := tmpl.ExecuteTemplate(&buff, "base", ctxData); err != nil {
			return errors.Wrapf(err, "rendering %s.gohtml", m.TemplateName)
		}
		m.HTMLContent = buff.String()
	}
	return nil
}

// Attach adds the content of `r` as a base64 encoded attachment.
// The content type is sniffed when `ct` is not given.
func (m *EmailMessage) Attach(r io.Reader, filename string, ct ...string) error {
	content, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading attachment")
	}

	contentType := http.DetectContentType(content)
	if len(ct) > 0 {
		contentType = ct[0]
	}
	encoded := base64.StdEncoding.EncodeToString(content)
	m.Attachments = append(m.Attachments, Attachment{
		Content:     bytes.NewBufferString(encoded),
		ContentType: contentType,
		Filename:    filename,
	})
	return nil
}

func (m *EmailMessage) HasRecipients() bool  { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool     { return m.TextContent != "" || m.HTMLContent != "" }
func (m *EmailMessage) HasAttachments() bool { return len(m.Attachments) > 0 }

func parseEmailTemplates(fsys fs.FS) (*emailTemplates, error) {
	tmpls := &emailTemplates{
		text: make(map[string]*texttmpl.Template),
		html: make(map[string]*htmltmpl.Template),
	}

	fps, err := fs.Glob(fsys, path.Join(emailTemplatesDir, "*"))
	if err != nil {
		return nil, errors.Wrap(err, "listing email templates")
	}
	for _, fp := range fps {
		fname := path.Base(fp)
		if strings.HasPrefix(fname, "_") {
			continue
		}
		ext := path.Ext(fname)
		name := strings.TrimSuffix(fname, ext)
		layout := path.Join(emailTemplatesDir, "_base"+ext)

		switch ext {
		case ".txt":
			tmpl, err := texttmpl.ParseFS(fsys, layout, fp)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %s", fname)
			}
			tmpls.text[name] = tmpl
		case ".gohtml":
			tmpl, err := htmltmpl.ParseFS(fsys, layout, fp)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing %s", fname)
			}
			tmpls.html[name] = tmpl
		}
	}
	return tmpls, nil
}
