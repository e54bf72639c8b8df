package biz

import "errors"

// 同步失败按处理策略分为三类，编排器与上层用 errors.Is 区分。
var (
	// ErrTransient 网络、超时等临时失败。上游不可达时整个周期中止，
	// 本地缓存保持上一次成功同步的状态，下个周期自动重试。
	ErrTransient = errors.New("transient sync failure")

	// ErrIntegrity 下载内容的哈希与清单声明不一致，字节不可信。
	// 临时文件已删除，最终路径不受影响。
	ErrIntegrity = errors.New("content integrity failure")

	// ErrStorage 本地磁盘写入失败，仅对当前条目致命
	ErrStorage = errors.New("local storage failure")
)
