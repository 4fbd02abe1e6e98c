package service

import (
	"fmt"
	"strings"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/core/pipeline"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/dto"
	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
)

// TaskResult 查询任务结果，聚合状态由实例分布惰性归约
func (s *subscriptionService) TaskResult(taskID int64) (*dto.TaskResult, error) {
	if _, err := s.tasks.FindByID(taskID); err != nil {
		return nil, err
	}
	records, err := s.records.ListByTaskID(taskID)
	if err != nil {
		return nil, err
	}
	counts, err := s.records.CountByTaskStatus(taskID)
	if err != nil {
		return nil, err
	}

	statuses := make([]dto.InstanceStatus, 0, len(records))
	for _, record := range records {
		status, err := s.instanceStatusOf(record)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *status)
	}
	return &dto.TaskResult{
		TaskID:           taskID,
		Aggregate:        pipeline.AggregateTaskStatus(counts),
		InstanceStatuses: statuses,
	}, nil
}

// InstanceStatus 查询实例在订阅下的最新执行状态
func (s *subscriptionService) InstanceStatus(subscriptionID int64, instanceID string) (*dto.InstanceStatus, error) {
	record, err := s.records.FindLatest(subscriptionID, instanceID)
	if err != nil {
		return nil, err
	}
	return s.instanceStatusOf(record)
}

func (s *subscriptionService) instanceStatusOf(record *model.SubscriptionInstanceRecord) (*dto.InstanceStatus, error) {
	rows, err := s.details.ListByRecordID(record.ID)
	if err != nil {
		return nil, err
	}

	// 同 node_id 的最后一行是权威状态，行本身按写入序作为日志
	latest := map[string]string{}
	logsByStep := map[string][]string{}
	nodesByStep := map[string][]string{}
	for _, row := range rows {
		stepID := stepIDOfNode(row.NodeID)
		if _, seen := latest[row.NodeID]; !seen {
			nodesByStep[stepID] = append(nodesByStep[stepID], row.NodeID)
		}
		latest[row.NodeID] = row.Status
		line := fmt.Sprintf("[%s] %s %s", row.CreateTime.Format("2006-01-02 15:04:05"), row.NodeID, row.Status)
		if row.Log != "" {
			line += " " + row.Log
		}
		logsByStep[stepID] = append(logsByStep[stepID], line)
	}

	steps := make([]dto.StepStatus, 0, len(record.StepList()))
	for _, step := range record.StepList() {
		steps = append(steps, dto.StepStatus{
			StepID: step.ID,
			Action: step.Action,
			Status: stepStatusOf(nodesByStep[step.ID], latest),
			Logs:   logsByStep[step.ID],
		})
	}
	return &dto.InstanceStatus{
		InstanceID: record.InstanceID,
		RecordID:   record.ID,
		Status:     record.Status,
		Steps:      steps,
	}, nil
}

func stepIDOfNode(nodeID string) string {
	if i := strings.Index(nodeID, ":"); i > 0 {
		return nodeID[:i]
	}
	return nodeID
}

// stepStatusOf 按步骤内各原子的权威状态归约步骤状态
func stepStatusOf(nodeIDs []string, latest map[string]string) string {
	if len(nodeIDs) == 0 {
		return constants.StatusPending
	}
	success := 0
	for _, nodeID := range nodeIDs {
		switch latest[nodeID] {
		case constants.StatusFailed:
			return constants.StatusFailed
		case constants.StatusSuccess, constants.StatusSkipped:
			success++
		}
	}
	if success == len(nodeIDs) {
		return constants.StatusSuccess
	}
	return constants.StatusRunning
}
