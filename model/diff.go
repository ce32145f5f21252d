package model

// Field names an event attribute that reconciliation compares.
type Field string

const (
	FieldTitle     Field = "title"
	FieldDate      Field = "date"
	FieldMemo      Field = "memo"
	FieldStartTime Field = "startTime"
	FieldEndTime   Field = "endTime"
	FieldColor     Field = "color"
)

// Diff lists the fields of remote that differ from local. Remote wins on
// every listed field.
func Diff(local, remote Event) []Field {
	var fields []Field
	if local.Title != remote.Title {
		fields = append(fields, FieldTitle)
	}
	if local.Date != remote.Date {
		fields = append(fields, FieldDate)
	}
	if local.Memo != remote.Memo {
		fields = append(fields, FieldMemo)
	}
	if !OptionEqual(local.StartTime, remote.StartTime) {
		fields = append(fields, FieldStartTime)
	}
	if !OptionEqual(local.EndTime, remote.EndTime) {
		fields = append(fields, FieldEndTime)
	}
	if remote.Color != "" && local.Color != remote.Color {
		fields = append(fields, FieldColor)
	}
	return fields
}

// Apply copies the listed fields from src into dst.
func Apply(dst *Event, src Event, fields []Field) {
	for _, f := range fields {
		switch f {
		case FieldTitle:
			dst.Title = src.Title
		case FieldDate:
			dst.Date = src.Date
		case FieldMemo:
			dst.Memo = src.Memo
		case FieldStartTime:
			dst.StartTime = src.StartTime
		case FieldEndTime:
			dst.EndTime = src.EndTime
		case FieldColor:
			dst.Color = src.Color
		}
	}
}
