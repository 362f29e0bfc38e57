package cdp

// Script 注入每个文档的采集脚本，所有页面信号经 BindingName 绑定回传
const Script = `(() => {
  if (window.__recorder) return;
  const send = (kind, data) => {
    try {
      window.` + BindingName + `(JSON.stringify(Object.assign({kind, url: location.href, title: document.title}, data)));
    } catch (e) {}
  };
  const snap = (el, depth) => {
    if (!el || el.nodeType !== 1 || depth > 16) return null;
    const attrs = {};
    for (const a of el.attributes) attrs[a.name.toLowerCase()] = a.value;
    return {
      tag: el.tagName,
      id: el.id || '',
      className: typeof el.className === 'string' ? el.className : '',
      type: typeof el.type === 'string' ? el.type : '',
      contentEditable: el.getAttribute('contenteditable') === 'true',
      value: typeof el.value === 'string' ? el.value : '',
      text: (el.textContent || '').slice(0, 512),
      attrs,
      parent: snap(el.parentElement, depth + 1),
    };
  };
  document.addEventListener('click', e => send('click', {target: snap(e.target, 0), x: e.clientX, y: e.clientY}), true);
  document.addEventListener('keydown', e => send('keydown', {target: snap(e.target, 0), key: e.key, shift: e.shiftKey}), true);
  document.addEventListener('blur', e => send('blur', {target: snap(e.target, 0)}), true);
  document.addEventListener('submit', e => send('submit', {target: snap(e.target, 0)}), true);
  document.addEventListener('visibilitychange', () => send('visibilitychange', {hidden: document.hidden}));
  window.addEventListener('popstate', () => send('popstate', {}));
  window.addEventListener('focus', () => send('focus', {}));
  for (const name of ['pushState', 'replaceState']) {
    const orig = history[name];
    history[name] = function (...args) {
      const result = orig.apply(this, args);
      send('history', {});
      return result;
    };
  }
  let selectors = [];
  let observer = null;
  let seq = 0;
  const attach = () => {
    for (const sel of selectors) {
      document.querySelectorAll(sel).forEach(el => {
        if (el.dataset.recorderKey) return;
        el.dataset.recorderKey = 'w' + (seq++);
        el.addEventListener('input', e => send('site_input', {target: snap(e.target, 0), selector: sel, elemKey: el.dataset.recorderKey}));
      });
    }
  };
  window.__recorder = {
    watch(list) {
      selectors = list;
      attach();
      if (!observer && document.body) {
        observer = new MutationObserver(attach);
        observer.observe(document.body, {childList: true, subtree: true});
      }
    },
    unwatch() {
      selectors = [];
      if (observer) {
        observer.disconnect();
        observer = null;
      }
    },
  };
})();`
