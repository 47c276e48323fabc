package parallelnqueens

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNegativeBoardSize is returned when a negative board size is requested.
var ErrNegativeBoardSize = errors.New("board size must be non-negative")

// maxFastBoardSize is the largest board size handled by the uint64 fast
// path. Masks stay exact up to 64 bits, but the subtree counts must also
// fit: the count for N=27 is about 2.3e17 and roughly multiplies by 7 per
// step, so 29 is the last size guaranteed below 1<<64.
const maxFastBoardSize = 29

// Task describes one independent sub-search: count the completions with
// the first queen fixed at (row 0, Col) on an N x N board.
type Task struct {
	N   int
	Col int
}

// TaskResult contains the result of a single sub-search
type TaskResult struct {
	Task
	Count    *big.Int
	Central  bool
	Duration time.Duration
	Err      error
}

// CountResult contains the aggregated result of a full count, including
// the symmetry decomposition: Total = 2*HalfSum + Central.
type CountResult struct {
	N           int
	Total       *big.Int
	HalfSum     *big.Int
	Central     *big.Int
	Duration    time.Duration
	NumWorkers  int
	TaskResults []TaskResult
}

// SolverStats contains solver statistics
type SolverStats struct {
	BoardsCounted int64
	TasksExecuted int64
	NumWorkers    int
}

// Config contains configuration for the parallel solver
type Config struct {
	// NumWorkers bounds the worker pool; zero or negative selects the
	// host's available parallelism.
	NumWorkers int
	// ProgressHandler, if set, is invoked once per completed sub-search.
	// Calls are serialized; the handler must not block for long.
	ProgressHandler func(TaskResult)
}

// Solver counts distinct N-Queens solutions using bitmask backtracking,
// left-right symmetry breaking and a worker pool.
type Solver struct {
	numWorkers int
	progress   func(TaskResult)
	stats      SolverStats
	statsMutex sync.RWMutex
}

// NewSolver creates a new parallel N-Queens solver
func NewSolver(config Config) *Solver {
	if config.NumWorkers <= 0 {
		config.NumWorkers = runtime.NumCPU()
	}

	return &Solver{
		numWorkers: config.NumWorkers,
		progress:   config.ProgressHandler,
		stats: SolverStats{
			NumWorkers: config.NumWorkers,
		},
	}
}

// CountSolutions counts the distinct N-Queens solutions for an n x n
// board using a solver with default configuration.
func CountSolutions(n int) (*big.Int, error) {
	solver := NewSolver(Config{})
	result, err := solver.Count(context.Background(), n)
	if err != nil {
		return nil, err
	}
	return result.Total, nil
}

// Count counts all distinct solutions for an n x n board. Any solution
// with its first queen left of center has a mirror image on the right,
// so only columns [0, n/2) are searched and their sum doubled; the
// central column of an odd board has no mirror partner and is added
// un-doubled. The half-column searches run concurrently; a cancelled
// context or failed sub-search fails the whole call, partial sums are
// never returned.
func (s *Solver) Count(ctx context.Context, n int) (*CountResult, error) {
	if n < 0 {
		return nil, fmt.Errorf("invalid board size %d: %w", n, ErrNegativeBoardSize)
	}

	start := time.Now()

	// The empty board has exactly one placement: no queens.
	if n == 0 {
		atomic.AddInt64(&s.stats.BoardsCounted, 1)
		return &CountResult{
			N:          0,
			Total:      big.NewInt(1),
			HalfSum:    big.NewInt(0),
			Central:    big.NewInt(0),
			Duration:   time.Since(start),
			NumWorkers: s.numWorkers,
		}, nil
	}

	halfTasks, central := partitionTasks(n)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	taskChan := make(chan Task, len(halfTasks))
	resultChan := make(chan TaskResult, len(halfTasks))

	var wg sync.WaitGroup
	for i := 0; i < s.numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, taskChan, resultChan)
		}()
	}

	for _, task := range halfTasks {
		taskChan <- task
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	halfSum := new(big.Int)
	taskResults := make([]TaskResult, 0, len(halfTasks)+1)
	var firstErr error

	for result := range resultChan {
		if result.Err != nil {
			if firstErr == nil {
				firstErr = result.Err
				cancel()
			}
			continue
		}

		halfSum.Add(halfSum, result.Count)
		taskResults = append(taskResults, result)
		atomic.AddInt64(&s.stats.TasksExecuted, 1)

		if s.progress != nil {
			s.progress(result)
		}
	}

	if firstErr != nil {
		return nil, fmt.Errorf("half-board search failed: %w", firstErr)
	}

	// The central column is a single unit of work; run it inline after
	// the pool has joined.
	centralCount := new(big.Int)
	if central != nil {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("central column search aborted: %w", err)
		}

		centralStart := time.Now()
		centralCount = countCompletions(*central)

		result := TaskResult{
			Task:     *central,
			Count:    centralCount,
			Central:  true,
			Duration: time.Since(centralStart),
		}
		taskResults = append(taskResults, result)
		atomic.AddInt64(&s.stats.TasksExecuted, 1)

		if s.progress != nil {
			s.progress(result)
		}
	}

	total := new(big.Int).Lsh(halfSum, 1)
	total.Add(total, centralCount)

	atomic.AddInt64(&s.stats.BoardsCounted, 1)

	return &CountResult{
		N:           n,
		Total:       total,
		HalfSum:     halfSum,
		Central:     centralCount,
		Duration:    time.Since(start),
		NumWorkers:  s.numWorkers,
		TaskResults: taskResults,
	}, nil
}

// GetStats returns a snapshot of solver statistics
func (s *Solver) GetStats() SolverStats {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()

	return SolverStats{
		BoardsCounted: atomic.LoadInt64(&s.stats.BoardsCounted),
		TasksExecuted: atomic.LoadInt64(&s.stats.TasksExecuted),
		NumWorkers:    s.stats.NumWorkers,
	}
}

func (s *Solver) worker(ctx context.Context, taskChan <-chan Task, resultChan chan<- TaskResult) {
	for task := range taskChan {
		select {
		case <-ctx.Done():
			resultChan <- TaskResult{Task: task, Err: ctx.Err()}
			continue
		default:
		}

		taskStart := time.Now()
		count := countCompletions(task)

		resultChan <- TaskResult{
			Task:     task,
			Count:    count,
			Duration: time.Since(taskStart),
		}
	}
}

// partitionTasks produces the half-board tasks for columns [0, n/2) in
// ascending order, plus the central-column task when n is odd.
func partitionTasks(n int) ([]Task, *Task) {
	half := n / 2

	tasks := make([]Task, 0, half)
	for col := 0; col < half; col++ {
		tasks = append(tasks, Task{N: n, Col: col})
	}

	if n%2 == 1 {
		return tasks, &Task{N: n, Col: half}
	}
	return tasks, nil
}

// countCompletions runs one sub-search to completion: row 0 holds a
// queen at task.Col, rows 1..N-1 are searched exhaustively.
func countCompletions(task Task) *big.Int {
	n, col := task.N, task.Col

	if n <= maxFastBoardSize {
		first := uint64(1) << uint(col)
		return new(big.Int).SetUint64(backtrack(n, 1, first, first<<1, first>>1))
	}

	first := new(big.Int).Lsh(big.NewInt(1), uint(col))
	boardMask := new(big.Int).Lsh(big.NewInt(1), uint(n))
	boardMask.Sub(boardMask, big.NewInt(1))

	cols := new(big.Int).Set(first)
	majors := new(big.Int).Lsh(first, 1)
	minors := new(big.Int).Rsh(first, 1)
	return backtrackBig(n, 1, cols, majors, minors, boardMask)
}

// backtrack counts completions from the given row downward. cols marks
// attacked columns; majors and minors mark attacked diagonals and shift
// one position per row because a diagonal attack line slides one column
// as the search advances.
func backtrack(n, row int, cols, majors, minors uint64) uint64 {
	if row == n {
		return 1
	}

	available := ^(cols | majors | minors) & (uint64(1)<<uint(n) - 1)
	var count uint64
	for available != 0 {
		position := available & (-available) // lowest set bit
		available -= position
		count += backtrack(n, row+1, cols|position, (majors|position)<<1, (minors|position)>>1)
	}
	return count
}

// backtrackBig is the arbitrary-precision variant used beyond the fast
// path's board size. big.Int bitwise operations follow two's-complement
// semantics for negative operands, so the same lowest-set-bit identity
// applies.
func backtrackBig(n, row int, cols, majors, minors, boardMask *big.Int) *big.Int {
	if row == n {
		return big.NewInt(1)
	}

	available := new(big.Int).Or(cols, majors)
	available.Or(available, minors)
	available.Not(available)
	available.And(available, boardMask)

	count := new(big.Int)
	position := new(big.Int)
	negated := new(big.Int)

	for available.Sign() != 0 {
		negated.Neg(available)
		position.And(available, negated)
		available.Sub(available, position)

		nextCols := new(big.Int).Or(cols, position)
		nextMajors := new(big.Int).Or(majors, position)
		nextMajors.Lsh(nextMajors, 1)
		nextMinors := new(big.Int).Or(minors, position)
		nextMinors.Rsh(nextMinors, 1)

		count.Add(count, backtrackBig(n, row+1, nextCols, nextMajors, nextMinors, boardMask))
	}
	return count
}

// Example demonstrates the parallel N-Queens counter
func Example() {
	fmt.Println("=== Parallel N-Queens Counter Example ===")

	solver := NewSolver(Config{})
	testCases := []int{4, 5, 6, 7, 8, 10, 12, 14, 16}

	for _, n := range testCases {
		start := time.Now()
		result, err := solver.Count(context.Background(), n)
		if err != nil {
			fmt.Printf("N=%d: error: %v\n", n, err)
			continue
		}

		fmt.Printf("N=%d: Total Solutions = %s, Execution Time = %.4f seconds\n",
			n, result.Total.String(), time.Since(start).Seconds())
	}

	stats := solver.GetStats()
	fmt.Printf("Boards counted: %d, sub-searches executed: %d, workers: %d\n",
		stats.BoardsCounted, stats.TasksExecuted, stats.NumWorkers)
}
