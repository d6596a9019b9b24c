// Package events публикует события жизненного цикла workflow в RabbitMQ.
//
// Движок событийно-нейтрален: вся истина живёт в State Store, события —
// поток для внешних наблюдателей (дашборды, алерты, downstream-пайплайны).
// Публикация best-effort: недоступность брокера не останавливает
// выполнение workflow.
//
// Топология: один topic-обменник canis.events, ключи маршрутизации
// workflow.<status>, step.<status> и job.submitted.
package events
