package model

import (
	"fmt"
	"strconv"
	"strings"
)

// binlog 位点
type Position struct {
	LogFile string
	LogPos  int64
}

/* 新建一个位点
Params:
    _logFile: binlog文件
    _logPos: binlog pos
*/
func NewPosition(_logFile string, _logPos int64) *Position {
	return &Position{
		LogFile: _logFile,
		LogPos:  _logPos,
	}
}

/* 获取 binlog 文件的序号
Return:
    mysql-bin.000005 -> 5, 没有数字后缀返回 -1
*/
func (this *Position) Sequence() int64 {
	idx := strings.LastIndex(this.LogFile, ".")
	suffix := this.LogFile[idx+1:]
	seq, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return -1
	}

	return seq
}

/* 比较两个位点, 先比较文件序号再比较偏移量
Return:
    -1: 本位点小, 0: 相等, 1: 本位点大
*/
func (this *Position) Compare(_other *Position) int {
	thisSeq, otherSeq := this.Sequence(), _other.Sequence()
	switch {
	case thisSeq < otherSeq:
		return -1
	case thisSeq > otherSeq:
		return 1
	case this.LogPos < _other.LogPos:
		return -1
	case this.LogPos > _other.LogPos:
		return 1
	}

	return 0
}

/* 判断本位点是否 >= 其他位点
Params:
    _other: 其他位点
*/
func (this *Position) IsRatherThanOrEqual(_other *Position) bool {
	return this.Compare(_other) >= 0
}

func (this *Position) String() string {
	return fmt.Sprintf("%v:%v", this.LogFile, this.LogPos)
}
