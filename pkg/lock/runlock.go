package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// RunLock は出力ディレクトリ単位の実行ロックを管理します
// 同じ出力ツリーへの同時バッチ実行は成果物とログを壊すため、
// ロックファイルで多重起動を防ぐ
type RunLock struct {
	path string
}

// ErrAlreadyLocked は他のプロセスが実行中の場合のエラー
var ErrAlreadyLocked = fmt.Errorf("another batch run holds the lock")

const lockFileName = ".translator.lock"

// Acquire は出力ディレクトリの実行ロックを取得します
// ロックファイルに残されたPIDのプロセスが既に存在しない場合は
// 前回の異常終了とみなし、ロックを引き継ぐ
func Acquire(outputDir string) (*RunLock, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(outputDir, lockFileName)

	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(file, "%d\n", os.Getpid())
			file.Close()
			return &RunLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		pid, readErr := readLockPID(path)
		if readErr == nil && processAlive(pid) {
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyLocked, pid)
		}

		// 保持者が存在しないので古いロックを除去して取り直す
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return nil, fmt.Errorf("failed to remove stale lock file: %w", removeErr)
		}
	}

	return nil, ErrAlreadyLocked
}

// Release はロックを解放します
func (l *RunLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive はシグナル0の送信でプロセスの存在を確認します
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
