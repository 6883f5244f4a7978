package sync

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// CONFLICT DETECTOR
// Классифицирует расхождение между локальным и удалённым срезами одной
// сущности. Поле считается конфликтным только когда ОБЕ стороны держат
// непустые различающиеся значения; значение только с одной стороны -
// это обогащение, оно конфликтом не является.
// ══════════════════════════════════════════════════════════════════════════════

// Detection - результат сравнения двух срезов.
type Detection struct {
	// Fields - разошедшиеся отслеживаемые поля.
	Fields []Field

	// Types - все затронутые категории (могут совпасть несколько).
	Types []ConflictType
}

// HasConflict возвращает true при хотя бы одном действительном расхождении.
func (d Detection) HasConflict() bool {
	return len(d.Fields) > 0
}

// PrimaryType возвращает основную категорию для целей разрешения:
// time_modified > content_modified > location_conflict.
func (d Detection) PrimaryType() ConflictType {
	var hasContent, hasLocation bool
	for _, t := range d.Types {
		switch t {
		case ConflictTimeModified:
			return ConflictTimeModified
		case ConflictContentModified:
			hasContent = true
		case ConflictLocation:
			hasLocation = true
		}
	}
	if hasContent {
		return ConflictContentModified
	}
	if hasLocation {
		return ConflictLocation
	}
	return ""
}

// Detect сравнивает локальный и удалённый срезы по отслеживаемому набору
// полей {title, description, location, start, end}.
func Detect(local, remote Snapshot) Detection {
	var d Detection

	if stringsConflict(local.Title, remote.Title) {
		d.Fields = append(d.Fields, FieldTitle)
	}
	if stringsConflict(local.Description, remote.Description) {
		d.Fields = append(d.Fields, FieldDescription)
	}
	if stringsConflict(local.Location, remote.Location) {
		d.Fields = append(d.Fields, FieldLocation)
	}
	if timesConflict(local.Start, remote.Start) {
		d.Fields = append(d.Fields, FieldStart)
	}
	if timesConflict(local.End, remote.End) {
		d.Fields = append(d.Fields, FieldEnd)
	}

	d.Types = categorize(d.Fields)
	return d
}

// categorize сводит поля к категориям конфликта.
func categorize(fields []Field) []ConflictType {
	var hasTime, hasContent, hasLocation bool
	for _, f := range fields {
		switch f {
		case FieldStart, FieldEnd:
			hasTime = true
		case FieldTitle, FieldDescription:
			hasContent = true
		case FieldLocation:
			hasLocation = true
		}
	}

	var types []ConflictType
	if hasTime {
		types = append(types, ConflictTimeModified)
	}
	if hasContent {
		types = append(types, ConflictContentModified)
	}
	if hasLocation {
		types = append(types, ConflictLocation)
	}
	return types
}

// stringsConflict: обе стороны непустые и различаются.
func stringsConflict(local, remote *string) bool {
	if local == nil || remote == nil {
		return false
	}
	if *local == "" || *remote == "" {
		return false
	}
	return *local != *remote
}

// timesConflict: обе стороны заданы и различаются.
func timesConflict(local, remote *time.Time) bool {
	if local == nil || remote == nil {
		return false
	}
	return !local.Equal(*remote)
}
