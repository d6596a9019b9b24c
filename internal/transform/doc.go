// Пакет transform реализует детерминированные операторы над данными,
// которые выполняют code-шаги workflow.
//
// Все операторы — чистые функции над JSON-значениями: одинаковые входы
// всегда дают одинаковый результат, что позволяет безопасно повторять
// шаг после рестарта процесса.
package transform
