package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"enrollassist-backend/internal/components/assert"
	"enrollassist-backend/internal/components/telemetry"
)

const (
	report_enroller_enroll   = "enroller.enroll"
	report_enroller_selected = "enroller.selected"
	report_enroller_do_id    = "enroller.do-id"
)

// Verdict combines the flag the portal returned with an independent check of
// the selected-course list. The flag alone is not trustworthy.
type Verdict struct {
	FlagOK    bool   `json:"flag_ok"`
	Confirmed bool   `json:"confirmed"`
	Message   string `json:"message"`
}

func (v Verdict) Success() bool {
	return v.FlagOK && v.Confirmed
}

// Enroller submits enrollment requests.
type Enroller struct {
	client *Client
	tel    telemetry.API
}

func NewEnroller(client *Client, tel telemetry.API) *Enroller {
	assert.NotNil(client)
	assert.NotNil(tel)
	return &Enroller{
		client: client,
		tel:    telemetry.NewScopedAPI("portal", tel),
	}
}

type enrollResponse struct {
	Flag FlexString `json:"flag"`
	Msg  FlexString `json:"msg"`
}

type selectedRow struct {
	CourseID FlexString `json:"kch_id"`
	ClassID  FlexString `json:"jxb_id"`
}

type detailRow struct {
	ClassID FlexString `json:"jxb_id"`
	DoID    FlexString `json:"do_jxb_id"`
}

// Enroll submits one course and then checks the selected list whether or not
// the submission claimed success. The returned error collects request
// failures, the verdict is meaningful either way.
func (e *Enroller) Enroll(ctx context.Context, credential string, course CourseRecord) (Verdict, error) {
	var verdict Verdict
	var errs []error

	doID := course.DoID
	if doID == "" {
		var err error
		doID, err = e.lookupDoID(ctx, credential, course)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if doID != "" {
		flagOK, msg, err := e.submit(ctx, credential, course, doID)
		if err != nil {
			errs = append(errs, err)
			msg = err.Error()
		}
		verdict.FlagOK = flagOK
		verdict.Message = msg
	} else {
		verdict.Message = "no do-id available for class " + course.ClassID
	}

	confirmed, err := e.Selected(ctx, credential, course)
	if err != nil {
		errs = append(errs, err)
	}
	verdict.Confirmed = confirmed

	if verdict.FlagOK != verdict.Confirmed {
		e.tel.ReportWarning(
			report_enroller_enroll,
			fmt.Errorf("flag and selected list disagree"),
			course.Key(),
			verdict.FlagOK,
			verdict.Confirmed,
		)
	}
	return verdict, errors.Join(errs...)
}

func (e *Enroller) submit(ctx context.Context, credential string, course CourseRecord, doID string) (bool, string, error) {
	form := course.Params.Form()
	form["jxb_ids"] = doID
	form["kch_id"] = course.CourseID
	form["qz"] = "0"
	form["cxbj"] = "0"
	form["xxkbj"] = "0"

	body, err := e.client.post(ctx, credential, endpointEnroll, form)
	if err != nil {
		return false, "", err
	}
	if looksLikeHTML(body) {
		return false, "", fmt.Errorf("enroll %s: %w", course.Key(), ErrSessionExpired)
	}
	var res enrollResponse
	err = json.Unmarshal(body, &res)
	if err != nil {
		e.tel.ReportBroken(report_enroller_enroll, fmt.Errorf("decode: %w", err), string(body))
		return false, "", fmt.Errorf("enroll %s: decode response: %w", course.Key(), err)
	}
	return res.Flag == "1", res.Msg.String(), nil
}

// Selected reports whether the (course id, class id) pair is in the
// session's selected-course list.
func (e *Enroller) Selected(ctx context.Context, credential string, course CourseRecord) (bool, error) {
	body, err := e.client.post(ctx, credential, endpointSelected, course.Params.Form())
	if err != nil {
		return false, err
	}
	if looksLikeHTML(body) {
		return false, fmt.Errorf("selected list: %w", ErrSessionExpired)
	}
	var rows []selectedRow
	err = json.Unmarshal(body, &rows)
	if err != nil {
		e.tel.ReportBroken(report_enroller_selected, fmt.Errorf("decode: %w", err))
		return false, fmt.Errorf("selected list: decode: %w", err)
	}
	for _, row := range rows {
		if row.CourseID.String() == course.CourseID && row.ClassID.String() == course.ClassID {
			return true, nil
		}
	}
	return false, nil
}

// lookupDoID asks the class detail endpoint for the do-id of the record's
// class. The record is not modified.
func (e *Enroller) lookupDoID(ctx context.Context, credential string, course CourseRecord) (string, error) {
	form := course.Params.Form()
	form["kch_id"] = course.CourseID

	body, err := e.client.post(ctx, credential, endpointDetail, form)
	if err != nil {
		return "", err
	}
	if looksLikeHTML(body) {
		return "", fmt.Errorf("class detail: %w", ErrSessionExpired)
	}
	var rows []detailRow
	err = json.Unmarshal(body, &rows)
	if err != nil {
		e.tel.ReportBroken(report_enroller_do_id, fmt.Errorf("decode: %w", err))
		return "", fmt.Errorf("class detail: decode: %w", err)
	}
	for _, row := range rows {
		if row.ClassID.String() == course.ClassID && row.DoID != "" {
			return row.DoID.String(), nil
		}
	}
	e.tel.ReportWarning(report_enroller_do_id, fmt.Errorf("class not in detail list"), course.Key())
	return "", nil
}
