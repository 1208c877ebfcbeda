package medapi

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
)

func encodeMultipart(uid string, image, audio *Attachment) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if image != nil {
		if err := writePart(w, "image", image, "upload"); err != nil {
			return nil, "", err
		}
	}
	if audio != nil {
		if err := writePart(w, "audio", audio, "recording.mp3"); err != nil {
			return nil, "", err
		}
	}
	if err := w.WriteField("user_id", uid); err != nil {
		return nil, "", fmt.Errorf("medapi: diagnose: write user_id: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("medapi: diagnose: close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func writePart(w *multipart.Writer, field string, a *Attachment, fallbackName string) error {
	name := a.Filename
	if name == "" {
		name = fallbackName
	}
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("medapi: diagnose: create %s part: %w", field, err)
	}
	if a.Body == nil {
		return nil
	}
	if _, err := io.Copy(part, a.Body); err != nil {
		return fmt.Errorf("medapi: diagnose: copy %s: %w", field, err)
	}
	return nil
}
