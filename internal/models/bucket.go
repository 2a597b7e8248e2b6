package models

import "time"

// Bucket — счётчик запросов и начало окна для одного ключа
// (класс маршрута + идентификатор клиента).
// Внутри живого окна Count не превышает Max своей политики.
type Bucket struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// Expired сообщает, истекло ли окно длиной window к моменту now.
func (b Bucket) Expired(now time.Time, window time.Duration) bool {
	return !now.Before(b.WindowStart.Add(window))
}
