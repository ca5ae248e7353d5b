// Package supervisor ведёт задачу по конечному автомату выполнения.
//
// Состояния:
//
//	pending → assigned → in_progress → completed
//	                               ↘ under_review → completed | in_progress
//	                               ↘ failed
//	                               ↘ blocked → in_progress
//	                   in_progress ⇄ paused
//	(любое нефинальное) → cancelled
//
// Supervisor не исполняет задачи: внешний исполнитель сообщает о старте,
// прогрессе и завершении, а Supervisor проверяет переходы, освобождает
// слоты исполнителей, разблокирует зависимые задачи и ведёт статистику
// (среднее время выполнения, тренд скорости из не более 30 значений).
package supervisor
