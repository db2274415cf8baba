package export

import (
	"time"

	"github.com/noah-isme/enrollment-records/internal/models"
)

// EnrollmentHeaders are the column names of an enrollment export.
var EnrollmentHeaders = []string{"id", "firstName", "lastName", "dateOfBirth", "language"}

// EnrollmentDataset flattens stored enrollments into export rows. Unset fields become empty cells.
func EnrollmentDataset(records []models.StoredEnrollment) Dataset {
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		e := record.Enrollment
		rows = append(rows, []string{
			record.ID,
			cell(e.FirstName()),
			cell(e.LastName()),
			dateCell(e.DateOfBirth()),
			cell(e.Language()),
		})
	}
	headers := make([]string, len(EnrollmentHeaders))
	copy(headers, EnrollmentHeaders)
	return Dataset{Headers: headers, Rows: rows}
}

func cell(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func dateCell(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.Format(models.DateLayout)
}
