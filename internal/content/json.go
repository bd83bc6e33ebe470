package content

import (
	"bytes"
	"encoding/json"
	"net/url"

	"go.uber.org/zap"
)

// rewriteJSON walks the document through a token stream so key order
// and number formatting survive re-emission; only string values that
// parse as absolute http(s) URLs are touched. Malformed input comes
// back unchanged.
func (t *Transformer) rewriteJSON(content []byte, rc Context) []byte {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()

	var buf bytes.Buffer
	if err := t.copyJSONValue(dec, &buf, rc); err != nil {
		t.logger.Debug("json rewrite passthrough", zap.Error(err))
		return content
	}
	if dec.More() {
		return content
	}
	return buf.Bytes()
}

func (t *Transformer) copyJSONValue(dec *json.Decoder, buf *bytes.Buffer, rc Context) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			buf.WriteByte('{')
			first := true
			for dec.More() {
				if !first {
					buf.WriteByte(',')
				}
				first = false
				keyTok, err := dec.Token()
				if err != nil {
					return err
				}
				key, _ := keyTok.(string)
				if err := writeJSONString(buf, key); err != nil {
					return err
				}
				buf.WriteByte(':')
				if err := t.copyJSONValue(dec, buf, rc); err != nil {
					return err
				}
			}
			if _, err := dec.Token(); err != nil { // closing brace
				return err
			}
			buf.WriteByte('}')
		case '[':
			buf.WriteByte('[')
			first := true
			for dec.More() {
				if !first {
					buf.WriteByte(',')
				}
				first = false
				if err := t.copyJSONValue(dec, buf, rc); err != nil {
					return err
				}
			}
			if _, err := dec.Token(); err != nil { // closing bracket
				return err
			}
			buf.WriteByte(']')
		}
	case string:
		if isAbsoluteHTTPURL(v) {
			v = t.engine.RewriteURL(v, rc.TargetURL)
		}
		return writeJSONString(buf, v)
	case json.Number:
		buf.WriteString(v.String())
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	encoded, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(encoded)
	return nil
}

func isAbsoluteHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
