package notification

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstitute(t *testing.T) {
	ctx := map[string]string{"name": "Ada", "grade": "A"}

	assert.Equal(t, "Hello Ada", Substitute("Hello {{name}}", ctx))
	assert.Equal(t, "Hello Ada", Substitute("Hello {{ name }}", ctx))
	assert.Equal(t, "Grade: A for Ada", Substitute("Grade: {{grade}} for {{name}}", ctx))

	// Unresolved placeholders render empty rather than leaking the braces.
	assert.Equal(t, "Hello ", Substitute("Hello {{missing}}", ctx))
	assert.Equal(t, "Hello ", Substitute("Hello {{name}}", nil))

	// Only the {{name}} grammar is recognized; no expression evaluation.
	assert.Equal(t, "{{a b}} stays", Substitute("{{a b}} stays", ctx))
	assert.Equal(t, "{name} stays", Substitute("{name} stays", ctx))
}

func TestRenderEmail(t *testing.T) {
	tpl := &Template{
		EmailSubject:  "Grade posted for {{course}}",
		EmailBody:     "{{name}}, your grade is {{grade}}.",
		EmailHTMLBody: "<p>{{name}}, your grade is <b>{{grade}}</b>.</p>",
	}
	ctx := map[string]string{"course": "Math", "name": "Ada", "grade": "A"}

	c := Render(tpl, ChannelEmail, ctx)
	assert.Equal(t, "Grade posted for Math", c.Title)
	assert.Equal(t, "Ada, your grade is A.", c.Body)
	assert.Equal(t, "<p>Ada, your grade is <b>A</b>.</p>", c.HTMLBody)

	// Deterministic: same inputs, same output.
	assert.Equal(t, c, Render(tpl, ChannelEmail, ctx))

	empty := Render(&Template{}, ChannelEmail, ctx)
	assert.Equal(t, "Notification", empty.Title)
	assert.Equal(t, "No content", empty.Body)
}

func TestRenderSMS(t *testing.T) {
	tpl := &Template{SMSBody: "Attendance alert for {{name}}"}

	c := Render(tpl, ChannelSMS, map[string]string{"name": "Ada"})
	assert.Equal(t, "SMS", c.Title)
	assert.Equal(t, "Attendance alert for Ada", c.Body)
	assert.Empty(t, c.HTMLBody)

	// Substitution can push the body over the limit; rendering clips it.
	long := Render(&Template{SMSBody: "{{text}}"}, ChannelSMS, map[string]string{
		"text": strings.Repeat("x", 200),
	})
	assert.Len(t, []rune(long.Body), SMSMaxLen)

	empty := Render(&Template{}, ChannelSMS, nil)
	assert.Equal(t, "Notification", empty.Title)
	assert.Equal(t, "No content", empty.Body)
}

func TestRenderPush(t *testing.T) {
	c := Render(&Template{PushTitle: "New message", PushBody: "From {{sender}}"}, ChannelPush,
		map[string]string{"sender": "Ms. Lee"})
	assert.Equal(t, "New message", c.Title)
	assert.Equal(t, "From Ms. Lee", c.Body)

	// Body-only push templates get the fallback title.
	bodyOnly := Render(&Template{PushBody: "Updates available"}, ChannelPush, nil)
	assert.Equal(t, "Notification", bodyOnly.Title)
	assert.Equal(t, "Updates available", bodyOnly.Body)
}

func TestRenderInApp(t *testing.T) {
	// Prefers push fields.
	c := Render(&Template{PushTitle: "Hi {{name}}", PushBody: "Push body", EmailSubject: "Mail"},
		ChannelInApp, map[string]string{"name": "Ada"})
	assert.Equal(t, "Hi Ada", c.Title)
	assert.Equal(t, "Push body", c.Body)

	// Falls back to email fields when the push ones are empty.
	c = Render(&Template{EmailSubject: "Conference on {{date}}", EmailBody: "See you there"},
		ChannelInApp, map[string]string{"date": "Friday"})
	assert.Equal(t, "Conference on Friday", c.Title)
	assert.Equal(t, "See you there", c.Body)

	empty := Render(&Template{}, ChannelInApp, nil)
	assert.Equal(t, "Notification", empty.Title)
	assert.Equal(t, "No content", empty.Body)
}

func TestTruncateSMS(t *testing.T) {
	assert.Equal(t, "short", TruncateSMS("short"))

	exact := strings.Repeat("a", SMSMaxLen)
	assert.Equal(t, exact, TruncateSMS(exact))

	// Rune-safe, not byte-safe.
	multi := strings.Repeat("é", SMSMaxLen+10)
	assert.Len(t, []rune(TruncateSMS(multi)), SMSMaxLen)
}

func TestValidateTemplate(t *testing.T) {
	ok := &Template{Name: "grade_posted", Category: CategoryGrade, SMSBody: "Grade posted"}
	assert.NoError(t, ValidateTemplate(ok))

	badCategory := &Template{Name: "x", Category: Category("gossip")}
	assert.ErrorIs(t, ValidateTemplate(badCategory), ErrInvalidCategory)

	tooLong := &Template{Name: "x", Category: CategoryGrade, SMSBody: strings.Repeat("a", SMSMaxLen+1)}
	assert.ErrorIs(t, ValidateTemplate(tooLong), ErrSMSBodyTooLong)
}
