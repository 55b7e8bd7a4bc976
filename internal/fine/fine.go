// Package fine содержит расчёт штрафа за просроченный возврат книги.
package fine

import "time"

// Compute возвращает штраф в копейках за возврат книги позже срока.
// Просрочка считается в календарных днях: обе отметки времени приводятся
// к дате, штраф начисляется за каждый день разницы. Если возврат произошёл
// не позже срока, штраф равен нулю. Функция детерминирована и не имеет
// побочных эффектов.
func Compute(dueAt, returnedAt time.Time, dailyRateCents int64) int64 {
	days := daysLate(dueAt, returnedAt)
	if days <= 0 {
		return 0
	}

	return days * dailyRateCents
}

// daysLate возвращает разницу дат в календарных днях. Сравниваются даты,
// а не длительность: переход на летнее время не срезает день просрочки.
func daysLate(dueAt, returnedAt time.Time) int64 {
	due := midnight(dueAt)
	ret := midnight(returnedAt.In(dueAt.Location()))
	return int64(ret.Sub(due).Hours() / 24)
}

// midnight проецирует дату на полночь UTC, чтобы вычитание дало целое
// число суток.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
