package render

// legacyAgentConfigTemplate 旧版 gse_agent 扁平布局配置模板
const legacyAgentConfigTemplate = `
{
    "run_mode": "{{ run_mode }}",
    "cloud_id": {{ cloud_id }},
    "zone_id": "{{ zone_id }}",
    "city_id": "{{ city_id }}",
    "access": {
        "cluster_endpoints": "{{ access.cluster_endpoints }}",
        "data_endpoints": "{{ access.data_endpoints }}",
        "file_endpoints": "{{ access.file_endpoints }}"
    },
    "base": {
        "tls_ca_file": "{{ base.tls_ca_file }}",
        "tls_cert_file": "{{ base.tls_cert_file }}",
        "tls_key_file": "{{ base.tls_key_file }}",
        "tls_passwd_file": "{{ base.tls_passwd_file }}",
        "processor_num": {{ base.processor_num }},
        "processor_size": {{ base.processor_size }}
    },
    {%- if proxy %}
    "proxy": {
        "tls_ca_file": "{{ proxy.tls_ca_file }}",
        "tls_cert_file": "{{ proxy.tls_cert_file }}",
        "tls_key_file": "{{ proxy.tls_key_file }}",
        "tls_passwd_file": "{{ proxy.tls_passwd_file }}",
        "bind_ip": "{{ proxy.bind_ip }}",
        "bind_port": {{ proxy.bind_port }},
        "thread_num": {{ proxy.thread_num }}
    },
    {%- endif %}
    "task": {
        "proc_event_data_id": {{ task.proc_event_data_id }},
        "concurrence_count": {{ task.concurrence_count }},
        "queue_wait_timeout_ms": {{ task.queue_wait_timeout_ms }},
        "executor_queue_size": {{ task.executor_queue_size }},
        "schedule_queue_size": {{ task.schedule_queue_size }},
        "host_code_page_name": "{{ task.host_code_page_name }}",
        "script_file_clean_batch_count": {{ task.script_file_clean_batch_count }},
        "script_file_clean_starup_clock_time": {{ task.script_file_clean_starup_clock_time }},
        "script_file_expire_time_hour": {{ task.script_file_expire_time_hour }},
        "script_file_prefix": "{{ task.script_file_prefix }}"
    },
    "data": {
        "ipc_file": "{{ data.ipc_file }}",
        "ipc_thread_num": {{ data.ipc_thread_num }}
    },
    "logger": {
        "path": "{{ logger.path }}",
        "level": "{{ logger.level }}",
        "filesize_mb": {{ logger.filesize_mb }},
        "filenum": {{ logger.filenum }},
        "rotate": {{ logger.rotate }},
        "flush_interval_ms": {{ logger.flush_interval_ms }}
    },
    "extra_config_directory": "{{ extra_config_directory }}"
}
`
