package dailymed

import (
	"context"
	"errors"
	"fmt"

	"github.com/ekaya-inc/medsearch/pkg/xmlpath"
)

// IssueReporter receives documents that could not be fully parsed.
type IssueReporter interface {
	RecordParsingIssue(ctx context.Context, splID int64, err error, raw []byte, structure string)
}

// SPLDetail holds the fields the sync extracts from an SPL detail
// document. A nil field was missing from the document.
type SPLDetail struct {
	MedCode           *string
	MedCodeSystem     *string
	MedName           *string
	MedEffectiveDate  *string
	MedVersionNumber  *string
	MedGenericName    *string
	MedFormName       *string
	MedFormCode       *string
	MedFormCodeSystem *string
	OrgName           *string
	OrgIDExtension    *string
	OrgIDRoot         *string
}

const (
	manufacturedProduct = ".//v3:manufacturedProduct"
	formCode            = manufacturedProduct + "/v3:formCode"
	orgID               = ".//v3:assignedEntity/v3:representedOrganization/v3:id"
)

// DetailFields locates each SPLDetail field relative to the document root.
var DetailFields = []xmlpath.Field{
	{Name: "med_code", Location: xmlpath.Location{Path: "v3:code", Attr: "code"}},
	{Name: "med_code_system", Location: xmlpath.Location{Path: "v3:code", Attr: "codeSystem"}},
	{Name: "med_name", Location: xmlpath.Location{Path: manufacturedProduct + "/v3:name"}},
	{Name: "med_effective_date", Location: xmlpath.Location{Path: "v3:effectiveTime", Attr: "value"}},
	{Name: "med_version_number", Location: xmlpath.Location{Path: "v3:versionNumber", Attr: "value"}},
	{Name: "med_generic_name", Location: xmlpath.Location{Path: ".//v3:genericMedicine/v3:name"}},
	{Name: "med_form_name", Location: xmlpath.Location{Path: formCode, Attr: "displayName"}},
	{Name: "med_form_code", Location: xmlpath.Location{Path: formCode, Attr: "code"}},
	{Name: "med_form_code_system", Location: xmlpath.Location{Path: formCode, Attr: "codeSystem"}},
	{Name: "org_name", Location: xmlpath.Location{Path: ".//v3:assignedEntity/v3:representedOrganization/v3:name"}},
	{Name: "org_id_extension", Location: xmlpath.Location{Path: orgID, Attr: "extension"}},
	{Name: "org_id_root", Location: xmlpath.Location{Path: orgID, Attr: "root"}},
}

// ParseSPLDetail extracts an SPLDetail from raw. Missing fields are left nil
// and reported to reporter as a single parsing issue, together with raw and
// the document's structure dump. A malformed document is reported with an
// empty structure and returned as an error.
func ParseSPLDetail(ctx context.Context, raw []byte, splID int64, reporter IssueReporter) (*SPLDetail, error) {
	doc, err := xmlpath.Parse(raw)
	if err != nil {
		err = fmt.Errorf("failed to parse spl detail: %w", err)
		if reporter != nil {
			reporter.RecordParsingIssue(ctx, splID, err, raw, "")
		}
		return nil, err
	}

	values, failures := xmlpath.Extract(doc.Root, DetailFields)
	if len(failures) > 0 && reporter != nil {
		reporter.RecordParsingIssue(ctx, splID, errors.New(xmlpath.JoinErrors(failures)), raw, xmlpath.Structure(doc))
	}

	return &SPLDetail{
		MedCode:           values.Ptr("med_code"),
		MedCodeSystem:     values.Ptr("med_code_system"),
		MedName:           values.Ptr("med_name"),
		MedEffectiveDate:  values.Ptr("med_effective_date"),
		MedVersionNumber:  values.Ptr("med_version_number"),
		MedGenericName:    values.Ptr("med_generic_name"),
		MedFormName:       values.Ptr("med_form_name"),
		MedFormCode:       values.Ptr("med_form_code"),
		MedFormCodeSystem: values.Ptr("med_form_code_system"),
		OrgName:           values.Ptr("org_name"),
		OrgIDExtension:    values.Ptr("org_id_extension"),
		OrgIDRoot:         values.Ptr("org_id_root"),
	}, nil
}
