package notification

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// SMSMaxLen is the hard ceiling for a rendered SMS body.
const SMSMaxLen = 160

// Fallback content used when a template lacks the fields a channel needs.
// A missing field must never fail the whole send.
const (
	fallbackTitle = "Notification"
	fallbackBody  = "No content"
)

// Content is the rendered (title, body) pair for one channel, plus the
// optional HTML alternative for email.
type Content struct {
	Title    string
	Body     string
	HTMLBody string
}

// placeholderRe matches the {{name}} grammar: a flat variable name, with
// optional surrounding whitespace inside the braces. Nothing else — no
// expressions, no pipelines, no code evaluation.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Substitute resolves {{name}} placeholders against a flat string-keyed
// context map. Unresolved placeholders render as the empty string.
func Substitute(s string, ctx map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		return ctx[name]
	})
}

// Render materializes a template's content for one channel. It is
// deterministic: identical (template, channel, context) inputs always yield
// identical output.
func Render(tpl *Template, ch Channel, ctx map[string]string) Content {
	switch ch {
	case ChannelEmail:
		if tpl.EmailSubject == "" && tpl.EmailBody == "" {
			return Content{Title: fallbackTitle, Body: fallbackBody}
		}
		c := Content{
			Title: Substitute(tpl.EmailSubject, ctx),
			Body:  Substitute(tpl.EmailBody, ctx),
		}
		if tpl.EmailHTMLBody != "" {
			c.HTMLBody = Substitute(tpl.EmailHTMLBody, ctx)
		}
		return c

	case ChannelSMS:
		if tpl.SMSBody == "" {
			return Content{Title: fallbackTitle, Body: fallbackBody}
		}
		return Content{Title: "SMS", Body: TruncateSMS(Substitute(tpl.SMSBody, ctx))}

	case ChannelPush:
		if tpl.PushTitle == "" && tpl.PushBody == "" {
			return Content{Title: fallbackTitle, Body: fallbackBody}
		}
		c := Content{
			Title: Substitute(tpl.PushTitle, ctx),
			Body:  Substitute(tpl.PushBody, ctx),
		}
		if c.Title == "" {
			c.Title = fallbackTitle
		}
		return c

	case ChannelInApp:
		// The in-app feed reuses the push fields and falls back to the email
		// ones so the stored record always has something to show.
		title := tpl.PushTitle
		body := tpl.PushBody
		if title == "" {
			title = tpl.EmailSubject
		}
		if body == "" {
			body = tpl.EmailBody
		}
		if title == "" && body == "" {
			return Content{Title: fallbackTitle, Body: fallbackBody}
		}
		c := Content{Title: Substitute(title, ctx), Body: Substitute(body, ctx)}
		if c.Title == "" {
			c.Title = fallbackTitle
		}
		return c
	}

	return Content{Title: fallbackTitle, Body: fallbackBody}
}

// TruncateSMS clips a rendered SMS body to SMSMaxLen runes.
func TruncateSMS(s string) string {
	if utf8.RuneCountInString(s) <= SMSMaxLen {
		return s
	}
	return string([]rune(s)[:SMSMaxLen])
}

// ValidateTemplate rejects template definitions the renderer cannot honor:
// an authored SMS body longer than the wire limit (before substitution) and
// unknown categories.
func ValidateTemplate(tpl *Template) error {
	if !ValidCategory(tpl.Category) {
		return ErrInvalidCategory.WithDetail("unknown category " + strings.TrimSpace(string(tpl.Category)))
	}
	if utf8.RuneCountInString(tpl.SMSBody) > SMSMaxLen {
		return ErrSMSBodyTooLong
	}
	return nil
}
