package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/yuin/goldmark"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"
)

//go:embed templates/*.html
var templateFS embed.FS

// markdown renders admin-authored bodies. Raw HTML in the source is escaped.
var markdown = goldmark.New(
	goldmark.WithRendererOptions(
		goldmarkHTML.WithHardWraps(),
	),
)

// Message is a rendered email ready to hand to a Sender.
type Message struct {
	Subject string
	HTML    string
}

// DripLesson is the data for one unlocked lesson notice.
type DripLesson struct {
	CourseName     string
	LessonTitle    string
	LessonNumber   int // 1-based
	TotalLessons   int
	BodyMarkdown   string
	HasVideo       bool
	ClassroomURL   string
	UnsubscribeURL string
}

// CourseGift is the data for a gifted course notice.
type CourseGift struct {
	CourseName          string
	DescriptionMarkdown string
	ClassroomURL        string
}

// Batch is an admin broadcast.
type Batch struct {
	Subject      string
	BodyMarkdown string
}

// VerificationCode is a one-time sign-in code mail.
type VerificationCode struct {
	Code         string
	ValidMinutes int
}

// Renderer turns job payloads into HTML mail. Safe for concurrent use.
type Renderer struct {
	appName string
	now     func() time.Time
	pages   map[string]*template.Template
}

// NewRenderer parses the embedded templates once.
// POST: Returns an error only when an embedded template fails to parse
func NewRenderer(appName string, now func() time.Time) (*Renderer, error) {
	r := &Renderer{appName: appName, now: now, pages: make(map[string]*template.Template)}
	for _, name := range []string{"drip_lesson", "course_gift", "batch_email", "verification_code"} {
		tpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		r.pages[name] = tpl
	}
	return r, nil
}

type pageData struct {
	AppName        string
	Year           int
	UnsubscribeURL string
	CourseName     string
	LessonTitle    string
	LessonNumber   int
	TotalLessons   int
	HasVideo       bool
	Body           template.HTML
	ClassroomURL   string
	Code           string
	ValidMinutes   int
}

func (r *Renderer) render(name, subject string, data pageData) (Message, error) {
	data.AppName = r.appName
	data.Year = r.now().Year()
	var buf bytes.Buffer
	if err := r.pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{Subject: subject, HTML: buf.String()}, nil
}

// RenderMarkdown converts Markdown to HTML with raw HTML escaped.
func RenderMarkdown(md string) (template.HTML, error) {
	if md == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// DripLesson renders the lesson notice; the subject is the lesson title.
func (r *Renderer) DripLesson(d DripLesson) (Message, error) {
	body, err := RenderMarkdown(d.BodyMarkdown)
	if err != nil {
		return Message{}, err
	}
	return r.render("drip_lesson", d.LessonTitle, pageData{
		CourseName: d.CourseName, LessonTitle: d.LessonTitle, LessonNumber: d.LessonNumber,
		TotalLessons: d.TotalLessons, HasVideo: d.HasVideo, Body: body,
		ClassroomURL: d.ClassroomURL, UnsubscribeURL: d.UnsubscribeURL,
	})
}

// CourseGift renders the gifted-course notice.
func (r *Renderer) CourseGift(d CourseGift) (Message, error) {
	body, err := RenderMarkdown(d.DescriptionMarkdown)
	if err != nil {
		return Message{}, err
	}
	return r.render("course_gift", "You have been given a course: "+d.CourseName, pageData{
		CourseName: d.CourseName, Body: body, ClassroomURL: d.ClassroomURL,
	})
}

// Batch renders an admin broadcast.
func (r *Renderer) Batch(d Batch) (Message, error) {
	body, err := RenderMarkdown(d.BodyMarkdown)
	if err != nil {
		return Message{}, err
	}
	return r.render("batch_email", d.Subject, pageData{Body: body})
}

// VerificationCode renders a sign-in code mail.
func (r *Renderer) VerificationCode(d VerificationCode) (Message, error) {
	return r.render("verification_code", "Your sign-in code", pageData{Code: d.Code, ValidMinutes: d.ValidMinutes})
}
