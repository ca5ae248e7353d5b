// Package cli реализует инструмент командной строки Orchestra.
//
// # Обзор
//
// CLI — клиентская утилита для работы с API оркестратора.
// Работает через HTTP, не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Orchestra API. Инкапсулирует запросы, разбор ответов
// (DataResponse, ListResponse, ErrorResponse) и ошибки API (*APIError).
//
//	client := cli.NewClient("http://localhost:8080")
//	tasks, err := client.ListTasks(cli.ListTasksOpts{Status: "blocked"})
//
// ## Output
//
// Форматирование вывода. Два режима:
//   - таблицы (text/tabwriter), статусы подсвечиваются fatih/color
//   - JSON с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Warn/Error) в stderr:
//
//	orchestra task list --status blocked --json | jq .
//
// ## Commands
//
//   - task: list, add, show, assign, start, progress, complete, fail, cancel
//   - worker: list, register, status
//   - conflict: list, history, show, plan, resolve, actions, approve, reject
//   - dashboard, report, signal, cycle
//
// Группы создаются фабриками (NewTaskCmd и т.д.), принимающими clientFn
// и outputFn: Client и Output создаются после разбора PersistentFlags.
//
// Файлы задач и сигналов принимаются в JSON или YAML; YAML переводится
// в JSON на стороне клиента.
package cli
