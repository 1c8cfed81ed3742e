// Package attachment turns user-selected files into session attachments:
// base64 payload, resolved MIME type and a data: URL for display.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/qqhmm2-web/NexusAI/pkg/session"
)

// DefaultMaxSize is the largest payload accepted for inline upload.
const DefaultMaxSize = 20 << 20

var (
	ErrTooLarge    = errors.New("attachment: file too large")
	ErrUnsupported = errors.New("attachment: not an image")
	ErrEmpty       = errors.New("attachment: empty file")
)

// EncodingError reports a file that could not be turned into an
// attachment. No session state is touched when it is returned.
type EncodingError struct {
	Name string
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("attachment: encode %s: %v", e.Name, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Encoder holds encoding limits. The zero value uses DefaultMaxSize.
type Encoder struct {
	MaxSize int64
}

func (e Encoder) maxSize() int64 {
	if e.MaxSize > 0 {
		return e.MaxSize
	}
	return DefaultMaxSize
}

// Encode reads the file at path with the default limits.
func Encode(path string) (session.Attachment, error) {
	return Encoder{}.Encode(path)
}

// EncodeReader reads r with the default limits.
func EncodeReader(name, mimeType string, r io.Reader) (session.Attachment, error) {
	return Encoder{}.EncodeReader(name, mimeType, r)
}

func (e Encoder) Encode(path string) (session.Attachment, error) {
	f, err := os.Open(path)
	if err != nil {
		return session.Attachment{}, &EncodingError{Name: path, Err: err}
	}
	defer f.Close()
	return e.EncodeReader(filepath.Base(path), "", f)
}

// EncodeReader reads all of r. mimeType may be empty, in which case it is
// resolved from the file extension and then from the content.
func (e Encoder) EncodeReader(name, mimeType string, r io.Reader) (session.Attachment, error) {
	limit := e.maxSize()
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return session.Attachment{}, &EncodingError{Name: name, Err: err}
	}
	if int64(len(data)) > limit {
		return session.Attachment{}, &EncodingError{Name: name, Err: fmt.Errorf("%w: limit %d bytes", ErrTooLarge, limit)}
	}
	if len(data) == 0 {
		return session.Attachment{}, &EncodingError{Name: name, Err: ErrEmpty}
	}
	return FromBytes(name, mimeType, data)
}

// FromBytes builds an attachment from an in-memory payload.
func FromBytes(name, mimeType string, data []byte) (session.Attachment, error) {
	if mimeType == "" {
		mimeType = DetectMIME(name, data)
	}
	mimeType = baseType(mimeType)
	if !strings.HasPrefix(mimeType, "image/") {
		return session.Attachment{}, &EncodingError{Name: name, Err: fmt.Errorf("%w: %s", ErrUnsupported, mimeType)}
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return session.Attachment{
		Kind:     session.KindImage,
		URL:      DataURL(mimeType, encoded),
		Data:     encoded,
		MIMEType: mimeType,
	}, nil
}

// DataURL formats a base64 payload as a data: URL.
func DataURL(mimeType, b64 string) string {
	return "data:" + mimeType + ";base64," + b64
}

// Decode returns the raw bytes of an attachment.
func Decode(att session.Attachment) ([]byte, error) {
	b64 := att.Data
	if b64 == "" {
		_, after, ok := strings.Cut(att.URL, ";base64,")
		if !ok {
			return nil, fmt.Errorf("attachment: no inline data")
		}
		b64 = after
	}
	return base64.StdEncoding.DecodeString(b64)
}

// DetectMIME resolves a MIME type from the file extension, falling back to
// content sniffing.
func DetectMIME(name string, head []byte) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			return baseType(byExt)
		}
	}
	if len(head) > 512 {
		head = head[:512]
	}
	return baseType(http.DetectContentType(head))
}

func baseType(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(t))
}
