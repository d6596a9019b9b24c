// Пакет batch инкапсулирует работу с внешним batch-сервисом инференса.
//
// Service — тонкая обёртка над API сервиса (OpenAI Batch API).
// Client добавляет поверх неё политику повторов с exponential backoff,
// идемпотентную отправку и контроль срока жизни job'а. Все executor'ы
// ходят к сервису только через Client, поэтому обработка транзиентных
// ошибок везде одинаковая.
package batch
