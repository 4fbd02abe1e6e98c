package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/TencentBlueKing/bk-nodeman-sub006/internal/model"
	"github.com/TencentBlueKing/bk-nodeman-sub006/pkg/constants"
	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// fakeRecordRepo 内存实例记录仓储
type fakeRecordRepo struct {
	mu      sync.Mutex
	records map[int64]*model.SubscriptionInstanceRecord
}

func newFakeRecordRepo(records ...*model.SubscriptionInstanceRecord) *fakeRecordRepo {
	repo := &fakeRecordRepo{records: make(map[int64]*model.SubscriptionInstanceRecord)}
	for _, record := range records {
		repo.records[record.ID] = record
	}
	return repo
}

func (f *fakeRecordRepo) BulkCreateLatest(subscriptionID int64, instanceIDs []string,
	records []*model.SubscriptionInstanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range records {
		f.records[record.ID] = record
	}
	return nil
}

func (f *fakeRecordRepo) FindByID(id int64) (*model.SubscriptionInstanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return nil, pkgErrors.ErrRecordNotFound
	}
	return record, nil
}

func (f *fakeRecordRepo) ListByTaskID(taskID int64) ([]*model.SubscriptionInstanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var records []*model.SubscriptionInstanceRecord
	for _, record := range f.records {
		if record.TaskID == taskID {
			records = append(records, record)
		}
	}
	return records, nil
}

func (f *fakeRecordRepo) FindLatest(subscriptionID int64, instanceID string) (*model.SubscriptionInstanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records {
		if record.SubscriptionID == subscriptionID && record.InstanceID == instanceID && record.IsLatest {
			return record, nil
		}
	}
	return nil, pkgErrors.ErrRecordNotFound
}

func (f *fakeRecordRepo) UpdateStatus(id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return pkgErrors.ErrRecordNotFound
	}
	// 与真实仓储一致：终态粘性，逆序写入按无操作处理
	if !constants.StatusCanAdvance(record.Status, status) {
		return nil
	}
	record.Status = status
	return nil
}

func (f *fakeRecordRepo) UpdateSteps(record *model.SubscriptionInstanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.records[record.ID]
	if !ok {
		return pkgErrors.ErrRecordNotFound
	}
	stored.Steps = record.Steps
	return nil
}

func (f *fakeRecordRepo) ListRunningWithoutProgress(age time.Duration, limit int) ([]*model.SubscriptionInstanceRecord, error) {
	return nil, nil
}

func (f *fakeRecordRepo) CountByTaskStatus(taskID int64) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int64)
	for _, record := range f.records {
		if record.TaskID == taskID {
			counts[record.Status]++
		}
	}
	return counts, nil
}

func (f *fakeRecordRepo) statusOf(id int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record, ok := f.records[id]; ok {
		return record.Status
	}
	return ""
}

// fakeDetailRepo 内存状态详情仓储，追加写
type fakeDetailRepo struct {
	mu      sync.Mutex
	details []*model.SubscriptionInstanceStatusDetail
}

func newFakeDetailRepo() *fakeDetailRepo { return &fakeDetailRepo{} }

func (f *fakeDetailRepo) Append(detail *model.SubscriptionInstanceStatusDetail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	detail.ID = int64(len(f.details) + 1)
	f.details = append(f.details, detail)
	return nil
}

func (f *fakeDetailRepo) ListByRecordID(recordID int64) ([]*model.SubscriptionInstanceStatusDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var details []*model.SubscriptionInstanceStatusDetail
	for _, detail := range f.details {
		if detail.SubscriptionInstanceRecordID == recordID {
			details = append(details, detail)
		}
	}
	return details, nil
}

func (f *fakeDetailRepo) LatestPerNode(recordID int64) (map[string]*model.SubscriptionInstanceStatusDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := make(map[string]*model.SubscriptionInstanceStatusDetail)
	for _, detail := range f.details {
		if detail.SubscriptionInstanceRecordID == recordID {
			latest[detail.NodeID] = detail
		}
	}
	return latest, nil
}

func (f *fakeDetailRepo) Prune(aliveDays int, limit int, saveStatuses []string) (int64, error) {
	return 0, nil
}

// byNodeStatus 指定原子与状态的详情行数
func (f *fakeDetailRepo) byNodeStatus(nodeID, status string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, detail := range f.details {
		if detail.NodeID == nodeID && detail.Status == status {
			count++
		}
	}
	return count
}

// byNodePrefix 指定步骤前缀的详情行数
func (f *fakeDetailRepo) byNodePrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, detail := range f.details {
		if strings.HasPrefix(detail.NodeID, prefix) {
			count++
		}
	}
	return count
}

func (f *fakeDetailRepo) lastLogOf(nodeID, status string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	log := ""
	for _, detail := range f.details {
		if detail.NodeID == nodeID && detail.Status == status {
			log = detail.Log
		}
	}
	return log
}

// fakeJobMapRepo 内存作业映射仓储
type fakeJobMapRepo struct {
	mu   sync.Mutex
	maps []*model.JobSubscriptionInstanceMap
}

func newFakeJobMapRepo() *fakeJobMapRepo { return &fakeJobMapRepo{} }

func (f *fakeJobMapRepo) Create(jobMap *model.JobSubscriptionInstanceMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobMap.ID = int64(len(f.maps) + 1)
	f.maps = append(f.maps, jobMap)
	return nil
}

func (f *fakeJobMapRepo) FindByJobInstance(jobInstanceID int64, nodeID string) (*model.JobSubscriptionInstanceMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, jobMap := range f.maps {
		if jobMap.JobInstanceID == jobInstanceID && jobMap.NodeID == nodeID {
			return jobMap, nil
		}
	}
	return nil, pkgErrors.ErrRecordNotFound
}

func (f *fakeJobMapRepo) UpdateStatus(id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, jobMap := range f.maps {
		if jobMap.ID == id {
			jobMap.Status = status
			return nil
		}
	}
	return pkgErrors.ErrRecordNotFound
}

func (f *fakeJobMapRepo) PruneByStatus(appointStatuses []string, limit int) (int64, error) {
	return 0, nil
}

func (f *fakeJobMapRepo) statusByJobInstance(jobInstanceID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, jobMap := range f.maps {
		if jobMap.JobInstanceID == jobInstanceID {
			return jobMap.Status
		}
	}
	return ""
}

// fakeHostRepo 内存主机仓储
type fakeHostRepo struct {
	mu    sync.Mutex
	hosts map[int64]*model.Host
}

func newFakeHostRepo(hosts ...*model.Host) *fakeHostRepo {
	repo := &fakeHostRepo{hosts: make(map[int64]*model.Host)}
	for _, host := range hosts {
		repo.hosts[host.BkHostID] = host
	}
	return repo
}

func (f *fakeHostRepo) FindByID(bkHostID int64) (*model.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	host, ok := f.hosts[bkHostID]
	if !ok {
		return nil, pkgErrors.ErrHostNotFound
	}
	return host, nil
}

func (f *fakeHostRepo) FindByCloudInnerIP(bkCloudID int64, innerIP string) (*model.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, host := range f.hosts {
		if host.BkCloudID == bkCloudID && host.InnerIP == innerIP {
			return host, nil
		}
	}
	return nil, pkgErrors.ErrHostNotFound
}

func (f *fakeHostRepo) ListByIDs(bkHostIDs []int64) ([]*model.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hosts []*model.Host
	for _, id := range bkHostIDs {
		if host, ok := f.hosts[id]; ok {
			hosts = append(hosts, host)
		}
	}
	return hosts, nil
}

func (f *fakeHostRepo) ListProxies(bkCloudID int64) ([]*model.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var proxies []*model.Host
	for _, host := range f.hosts {
		if host.BkCloudID == bkCloudID && host.NodeType == "PROXY" {
			proxies = append(proxies, host)
		}
	}
	return proxies, nil
}

func (f *fakeHostRepo) Save(host *model.Host) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hosts[host.BkHostID] = host
	return nil
}

func (f *fakeHostRepo) UpdateVersion(bkHostID int64, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	host, ok := f.hosts[bkHostID]
	if !ok {
		return pkgErrors.ErrHostNotFound
	}
	host.Version = version
	return nil
}

func (f *fakeHostRepo) SoftDelete(bkHostID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hosts, bkHostID)
	return nil
}

func (f *fakeHostRepo) versionOf(bkHostID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if host, ok := f.hosts[bkHostID]; ok {
		return host.Version
	}
	return ""
}
