package conflict

import "errors"

// Ошибки детектора и resolver'а.
var (
	// ErrConflictNotFound — конфликт не найден среди активных и разрешённых.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrAlreadyResolved — конфликт уже разрешён.
	ErrAlreadyResolved = errors.New("conflict already resolved")

	// ErrResolutionInProgress — конфликт уже разрешается.
	ErrResolutionInProgress = errors.New("conflict resolution in progress")

	// ErrOperatorRequired — в автоматическом режиме план требует участия человека.
	ErrOperatorRequired = errors.New("resolution requires operator action")

	// ErrOperatorTimeout — оператор не подтвердил шаг вовремя.
	ErrOperatorTimeout = errors.New("operator action timed out")

	// ErrNoPendingStep — у конфликта нет шага, ожидающего оператора.
	ErrNoPendingStep = errors.New("no pending operator step")

	// ErrStepRejected — оператор отклонил шаг.
	ErrStepRejected = errors.New("operator rejected step")

	// ErrNoStrategy — стратегия не применима к типу конфликта.
	ErrNoStrategy = errors.New("strategy not applicable")

	// ErrResolutionFailed — шаг плана завершился ошибкой.
	ErrResolutionFailed = errors.New("conflict resolution failed")

	// ErrDetectorTimeout — проверка детектора не уложилась в таймаут.
	ErrDetectorTimeout = errors.New("detector check timed out")

	// ErrInvalidSignal — сигнал без обязательных полей.
	ErrInvalidSignal = errors.New("invalid signal")
)
