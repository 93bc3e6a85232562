package adapter

import (
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "firefeed/internal/transport"
)

// Bot API descriptions that mean "this media cannot be attached to this message".
var badContentMarkers = []string{
	"wrong type of the web page content",
	"failed to get http url content",
	"wrong file identifier/http url specified",
	"wrong remote file identifier",
	"image_process_failed",
	"photo_invalid_dimensions",
}

// classify maps telebot failures onto the transport error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &kit.FloodError{Wait: time.Duration(fe.RetryAfter) * time.Second, Err: err}
	}
	var fep *tele.FloodError
	if errors.As(err, &fep) && fep != nil {
		return &kit.FloodError{Wait: time.Duration(fep.RetryAfter) * time.Second, Err: err}
	}

	code := 0
	var te *tele.Error
	if errors.As(err, &te) && te != nil {
		code = te.Code
	}
	return classifyDescription(code, err)
}

func classifyDescription(code int, err error) error {
	desc := strings.ToLower(err.Error())
	for _, m := range badContentMarkers {
		if strings.Contains(desc, m) {
			return kit.Classified(kit.ErrBadContent, err)
		}
	}
	switch {
	case code == 403,
		strings.Contains(desc, "forbidden"),
		strings.Contains(desc, "bot was blocked"),
		strings.Contains(desc, "user is deactivated"):
		return kit.Classified(kit.ErrForbidden, err)
	case code == 400, strings.Contains(desc, "bad request"):
		return kit.Classified(kit.ErrBadRequest, err)
	}
	return err
}
