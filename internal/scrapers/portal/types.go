package portal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrUnrecognizedPage is returned when the portal serves something that is
	// neither an enrollment page nor JSON, usually the login page.
	ErrUnrecognizedPage = errors.New("unrecognized portal page")
	// ErrSessionExpired is returned when an endpoint that should answer with
	// JSON answers with HTML instead.
	ErrSessionExpired = errors.New("portal session expired")
)

// MissingParamsError names every required parameter that resolved to an
// empty or absent value.
type MissingParamsError struct {
	Keys []string
}

func (e *MissingParamsError) Error() string {
	return fmt.Sprintf("missing required parameters: %s", strings.Join(e.Keys, ", "))
}

// Site is one school running the portal.
type Site struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	BaseURL    string `json:"base_url"`
	PathPrefix string `json:"path_prefix"`
	// FallbackCategory is used when the index page advertises no category at all.
	FallbackCategory *CategoryParams `json:"fallback_category,omitempty"`
}

const DefaultPathPrefix = "/jwglxt"

func (s Site) prefix() string {
	if s.PathPrefix == "" {
		return DefaultPathPrefix
	}
	return "/" + strings.Trim(s.PathPrefix, "/")
}

// CategoryParams identifies one enrollment track.
type CategoryParams struct {
	// Code is the portal's kklxdm.
	Code string `json:"code"`
	// Name is the tab label, informational only.
	Name string `json:"name,omitempty"`
	// WindowID is the portal's xkkz_id.
	WindowID string `json:"window_id"`
	// CohortID is the portal's njdm_id.
	CohortID string `json:"cohort_id"`
	// MajorID is the portal's zyh_id.
	MajorID string `json:"major_id"`
}

// Complete reports whether every identifier is present.
func (c CategoryParams) Complete() bool {
	return c.Code != "" && c.WindowID != "" && c.CohortID != "" && c.MajorID != ""
}

func (c CategoryParams) fields() map[string]string {
	return map[string]string{
		"kklxdm":  c.Code,
		"xkkz_id": c.WindowID,
		"njdm_id": c.CohortID,
		"zyh_id":  c.MajorID,
	}
}

// DefaultFallbackCategory is the tuple known to work on the default site. It
// is only used when the site does not configure its own.
var DefaultFallbackCategory = CategoryParams{
	Code:     "01",
	Name:     "主修课程",
	WindowID: "0F5B0B5E2E3F0D4AE063A8C8A8C0A1B2",
	CohortID: "2022",
	MajorID:  "0101",
}

// RequestParameters is everything a catalog or enrollment request for one
// category needs. It is built once per category per session and treated as
// immutable afterwards, Form always returns a fresh map.
type RequestParameters struct {
	Site         string         `json:"site"`
	Category     CategoryParams `json:"category"`
	Tokens       TokenSet       `json:"tokens"`
	TaskType     string         `json:"task_type"`
	Phase        string         `json:"phase"`
	PageSize     int            `json:"page_size"`
	UsedFallback bool           `json:"used_fallback"`
}

// Form renders the POST body shared by every request in the category: tokens
// first, then the category tuple, then derived fields.
func (p RequestParameters) Form() map[string]string {
	form := make(map[string]string, len(p.Tokens)+6)
	for k, v := range p.Tokens {
		form[k] = v
	}
	for k, v := range p.Category.fields() {
		if v != "" {
			form[k] = v
		}
	}
	if p.TaskType != "" {
		form["rwlx"] = p.TaskType
	}
	if p.Phase != "" {
		form["xklc"] = p.Phase
	}
	return form
}

// Missing returns the sorted list of required keys whose value in the form is
// absent or empty.
func (p RequestParameters) Missing(required []string) []string {
	return TokenSet(p.Form()).Missing(required)
}

// CourseRecord is one enrollable class. The params snapshot is the exact set
// used to discover it and is replayed at enrollment time.
type CourseRecord struct {
	CourseID   string            `json:"course_id"`
	ClassID    string            `json:"class_id"`
	DoID       string            `json:"do_id"`
	Title      string            `json:"title"`
	Instructor string            `json:"instructor"`
	Schedule   string            `json:"schedule"`
	Room       string            `json:"room"`
	Credit     string            `json:"credit"`
	SeatsTotal int               `json:"seats_total"`
	SeatsTaken int               `json:"seats_taken"`
	Params     RequestParameters `json:"params"`
}

// Key is the (course id, class id) pair used to confirm membership.
func (c CourseRecord) Key() string {
	return c.CourseID + "/" + c.ClassID
}

// FlexString decodes JSON strings, numbers, booleans and null into a string,
// the portal is not consistent about which one it sends.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		err := json.Unmarshal(data, &s)
		if err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	err := json.Unmarshal(data, &n)
	if err == nil {
		*f = FlexString(n.String())
		return nil
	}
	var b bool
	err = json.Unmarshal(data, &b)
	if err != nil {
		return fmt.Errorf("flex string: cannot decode %s", string(data))
	}
	*f = FlexString(strconv.FormatBool(b))
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

func (f FlexString) Int() int {
	n, err := strconv.Atoi(strings.TrimSpace(string(f)))
	if err != nil {
		return 0
	}
	return n
}

// courseRow is one entry of the catalog tmpList.
type courseRow struct {
	CourseID   FlexString `json:"kch_id"`
	Title      FlexString `json:"kcmc"`
	ClassID    FlexString `json:"jxb_id"`
	DoID       FlexString `json:"do_jxb_id"`
	Instructor FlexString `json:"jsxx"`
	Schedule   FlexString `json:"sksj"`
	Room       FlexString `json:"jxdd"`
	Credit     FlexString `json:"xf"`
	SeatsTotal FlexString `json:"jxbrl"`
	SeatsTaken FlexString `json:"yxzrs"`
}

func (r courseRow) record(params RequestParameters) CourseRecord {
	return CourseRecord{
		CourseID:   r.CourseID.String(),
		ClassID:    r.ClassID.String(),
		DoID:       r.DoID.String(),
		Title:      r.Title.String(),
		Instructor: r.Instructor.String(),
		Schedule:   r.Schedule.String(),
		Room:       r.Room.String(),
		Credit:     r.Credit.String(),
		SeatsTotal: r.SeatsTotal.Int(),
		SeatsTaken: r.SeatsTaken.Int(),
		Params:     params,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
