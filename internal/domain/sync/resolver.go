package sync

import "time"

// ══════════════════════════════════════════════════════════════════════════════
// CONFLICT RESOLVER
// Правила автоматического разрешения с оценкой уверенности. Уверенность
// выше порога - решение применяется автоматически, иначе конфликт
// остаётся в очереди на ручное решение пользователя.
// ══════════════════════════════════════════════════════════════════════════════

// ResolutionType определяет выбранную стратегию разрешения.
type ResolutionType string

const (
	// PreferLocal - оставить локальную копию.
	PreferLocal ResolutionType = "prefer_local"
	// PreferRemote - принять удалённую копию.
	PreferRemote ResolutionType = "prefer_remote"
	// Merge - пополевое слияние двух копий.
	Merge ResolutionType = "merge"
	// Manual - автоматика не уверена, решает пользователь.
	Manual ResolutionType = "manual"
)

// IsValid проверяет, что стратегия известна.
func (r ResolutionType) IsValid() bool {
	switch r {
	case PreferLocal, PreferRemote, Merge, Manual:
		return true
	default:
		return false
	}
}

// Resolution - результат работы резолвера.
type Resolution struct {
	// Type - выбранная стратегия.
	Type ResolutionType

	// ResolvedData - итоговый срез, который должен оказаться в обеих копиях.
	ResolvedData Snapshot

	// Confidence - эвристическая оценка того, что решение совпадает
	// с намерением пользователя (0.0 - 1.0).
	Confidence float64
}

const (
	// AutoApplyThreshold - порог автоприменения: строго выше него решение
	// применяется без участия пользователя.
	AutoApplyThreshold = 0.8

	// SimultaneousEditWindow - правки, разнесённые меньше чем на минуту,
	// считаются случайным одновременным редактированием.
	SimultaneousEditWindow = 60 * time.Second
)

// ShouldAutoApply возвращает true, если решение применяется автоматически.
func (r Resolution) ShouldAutoApply() bool {
	return r.Confidence > AutoApplyThreshold
}

// Resolve выбирает стратегию разрешения конфликта.
func Resolve(c *Conflict) Resolution {
	switch c.Type {
	case ConflictTimeModified:
		return resolveTime(c.LocalSnapshot, c.RemoteSnapshot)
	case ConflictContentModified:
		return resolveContent(c.LocalSnapshot, c.RemoteSnapshot)
	case ConflictLocation:
		return resolveLocation(c.LocalSnapshot, c.RemoteSnapshot)
	default:
		return Resolution{
			Type:         Manual,
			ResolvedData: c.LocalSnapshot,
			Confidence:   0.5,
		}
	}
}

// resolveTime: правки в пределах минуты - случайное совпадение, берём
// локальную копию; иначе побеждает строго более свежая сторона.
func resolveTime(local, remote Snapshot) Resolution {
	delta := local.UpdatedAt.Sub(remote.UpdatedAt)
	if delta < 0 {
		delta = -delta
	}

	if delta < SimultaneousEditWindow {
		return Resolution{
			Type:         PreferLocal,
			ResolvedData: local,
			Confidence:   0.9,
		}
	}

	if remote.UpdatedAt.After(local.UpdatedAt) {
		return Resolution{
			Type:         PreferRemote,
			ResolvedData: remote,
			Confidence:   0.85,
		}
	}
	return Resolution{
		Type:         PreferLocal,
		ResolvedData: local,
		Confidence:   0.85,
	}
}

// resolveContent: если одна из сторон строго свежее за пределами окна
// одновременного редактирования - побеждает она; иначе пополевое слияние:
// более описательный (длинный) текст для title/description, удалённое
// значение для location, если оно непустое.
func resolveContent(local, remote Snapshot) Resolution {
	delta := local.UpdatedAt.Sub(remote.UpdatedAt)
	if delta < 0 {
		delta = -delta
	}
	if delta >= SimultaneousEditWindow {
		if remote.UpdatedAt.After(local.UpdatedAt) {
			return Resolution{
				Type:         PreferRemote,
				ResolvedData: remote,
				Confidence:   0.85,
			}
		}
		return Resolution{
			Type:         PreferLocal,
			ResolvedData: local,
			Confidence:   0.85,
		}
	}

	merged := local
	merged.Title = longerString(local.Title, remote.Title)
	merged.Description = longerString(local.Description, remote.Description)
	if remote.Location != nil && *remote.Location != "" {
		merged.Location = remote.Location
	}

	return Resolution{
		Type:         Merge,
		ResolvedData: merged,
		Confidence:   0.75,
	}
}

// resolveLocation: удалённое место предпочтительнее, когда оно непустое.
func resolveLocation(local, remote Snapshot) Resolution {
	if remote.Location != nil && *remote.Location != "" {
		resolved := local
		resolved.Location = remote.Location
		return Resolution{
			Type:         PreferRemote,
			ResolvedData: resolved,
			Confidence:   0.8,
		}
	}
	return Resolution{
		Type:         PreferLocal,
		ResolvedData: local,
		Confidence:   0.8,
	}
}

// longerString возвращает более длинное из двух значений; при равенстве
// длин и отсутствии одной из сторон предпочтение локальному значению.
func longerString(local, remote *string) *string {
	if local == nil {
		return remote
	}
	if remote == nil {
		return local
	}
	if len(*remote) > len(*local) {
		return remote
	}
	return local
}
